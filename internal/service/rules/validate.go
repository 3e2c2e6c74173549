package rules

import (
	"regexp"
	"strconv"
	"time"

	"schemaflow/internal/domain"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// validFormats lists the formats a rule's validation block may declare.
var validFormats = map[string]struct{}{
	"": {}, "email": {}, "phone": {}, "date": {}, "number": {},
}

// KnownFormat reports whether format is a supported validation format.
func KnownFormat(format string) bool {
	_, ok := validFormats[format]
	return ok
}

// CheckValue applies a rule's declarative validation to a resolved value.
// A nil return means the value may be written to its canonical column.
func CheckValue(v domain.Validation, value string) error {
	if v.MinLen > 0 && len(value) < v.MinLen {
		return domain.ErrValidation("value shorter than %d characters", v.MinLen)
	}
	if v.MaxLen > 0 && len(value) > v.MaxLen {
		return domain.ErrValidation("value longer than %d characters", v.MaxLen)
	}

	switch v.Format {
	case "":
		return nil
	case "email":
		if !emailRe.MatchString(value) {
			return domain.ErrValidation("%q is not an email address", value)
		}
	case "phone":
		digits := 0
		for _, r := range value {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < 7 {
			return domain.ErrValidation("%q is not a phone number", value)
		}
	case "date":
		if _, err := time.Parse("2006-01-02", value); err != nil {
			if _, err := time.Parse(time.RFC3339, value); err != nil {
				return domain.ErrValidation("%q is not an ISO date", value)
			}
		}
	case "number":
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return domain.ErrValidation("%q is not a number", value)
		}
	default:
		return domain.ErrValidation("unknown validation format %q", v.Format)
	}
	return nil
}
