package domain

import "time"

// CanonicalTarget declares one canonical table the materializer may upsert
// into, together with the natural/business key column used for conflict
// resolution (e.g. "email" on a members table).
type CanonicalTarget struct {
	ID         string
	Table      string
	NaturalKey string
	CreatedAt  time.Time
}
