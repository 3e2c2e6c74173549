package rules

import (
	"context"
	"io"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "schemaflow/internal/db"
	"schemaflow/internal/db/repository"
	"schemaflow/internal/domain"
)

type rulesFixture struct {
	svc      *Service
	fields   *repository.DiscoveredFieldRepo
	records  *repository.RawRecordRepo
	store    *repository.CanonicalStoreRepo
	sources  *repository.SourceRepo
	sourceID string
}

func setupRulesTest(t *testing.T) *rulesFixture {
	t.Helper()
	ctx := context.Background()
	writeDB, readDB := internaldb.OpenTestSQLite(t)

	sources := repository.NewSourceRepo(writeDB, readDB)
	rulesRepo := repository.NewRuleRepo(writeDB, readDB)
	fields := repository.NewDiscoveredFieldRepo(writeDB, readDB)
	targets := repository.NewTargetRepo(writeDB, readDB)
	records := repository.NewRawRecordRepo(writeDB, readDB)
	store := repository.NewCanonicalStore(writeDB, readDB)

	src, err := sources.Create(ctx, &domain.Source{
		Name: "crm", Type: "webhook", Status: domain.SourceStatusActive,
	})
	require.NoError(t, err)

	_, err = targets.Create(ctx, &domain.CanonicalTarget{
		Table: "persons", NaturalKey: "person_id",
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureTable(ctx, "persons", "person_id"))

	svc := NewService(sources, rulesRepo, fields, targets, records, store, 50,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &rulesFixture{
		svc: svc, fields: fields, records: records, store: store,
		sources: sources, sourceID: src.ID,
	}
}

func (fx *rulesFixture) spec(column string, candidates ...string) domain.RuleSpec {
	return domain.RuleSpec{
		SourceID:     fx.sourceID,
		Candidates:   candidates,
		TargetTable:  "persons",
		TargetColumn: column,
	}
}

func TestService_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupRulesTest(t)

	// A candidate already sighted gets marked mapped on rule creation.
	_, err := fx.fields.Observe(ctx, fx.sourceID, domain.FieldObservation{
		FieldPath: "$.email", Type: domain.TypeString, Example: "a@x.com", HasValue: true,
	}, 1)
	require.NoError(t, err)

	rule, err := fx.svc.Create(ctx, fx.spec("email", "$.email", "$.email_address"))
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Version)
	assert.Equal(t, domain.RuleActive, rule.Status)
	assert.Nil(t, rule.SupersedesID)

	field, err := fx.fields.Get(ctx, fx.sourceID, "$.email")
	require.NoError(t, err)
	assert.Equal(t, domain.MappingMapped, field.Mapping)
	require.NotNil(t, field.TargetTable)
	assert.Equal(t, "persons", *field.TargetTable)
	require.NotNil(t, field.TargetColumn)
	assert.Equal(t, "email", *field.TargetColumn)

	// The canonical column now exists: a key-only upsert touching it works.
	require.NoError(t, fx.store.Upsert(ctx, "persons", "person_id", "p1",
		map[string]string{"email": "a@x.com"}))
}

func TestService_CreateValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupRulesTest(t)

	tests := []struct {
		name string
		spec domain.RuleSpec
	}{
		{"missing source", domain.RuleSpec{Candidates: []string{"$.a"}, TargetTable: "persons", TargetColumn: "a"}},
		{"no candidates no constant", fx.spec("email")},
		{"bad column ident", fx.spec("email; DROP TABLE persons", "$.email")},
		{"unregistered target table", domain.RuleSpec{
			SourceID: fx.sourceID, Candidates: []string{"$.a"},
			TargetTable: "unknown_table", TargetColumn: "a",
		}},
		{"unknown transform", func() domain.RuleSpec {
			s := fx.spec("email", "$.email")
			s.Transform = "rot13"
			return s
		}()},
		{"unknown format", func() domain.RuleSpec {
			s := fx.spec("email", "$.email")
			s.Validation.Format = "ssn"
			return s
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.svc.Create(ctx, tc.spec)
			require.Error(t, err)
		})
	}

	// An unknown source is a not-found, not a validation failure.
	s := fx.spec("email", "$.email")
	s.SourceID = domain.NewID()
	_, err := fx.svc.Create(ctx, s)
	var nfe *domain.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestService_ReviseAndDisable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupRulesTest(t)

	v1, err := fx.svc.Create(ctx, fx.spec("email", "$.email"))
	require.NoError(t, err)

	v2, err := fx.svc.Revise(ctx, v1.ID, fx.spec("email", "$.email", "$.email_address"))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	require.NotNil(t, v2.SupersedesID)
	assert.Equal(t, v1.ID, *v2.SupersedesID)

	prev, err := fx.svc.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleDisabled, prev.Status)

	active, err := fx.svc.ListActive(ctx, fx.sourceID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, v2.ID, active[0].ID)

	disabled, err := fx.svc.Disable(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleDisabled, disabled.Status)

	active, err = fx.svc.ListActive(ctx, fx.sourceID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Both versions remain listed for audit.
	all, total, err := fx.svc.List(ctx, fx.sourceID, domain.PageRequest{MaxResults: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)
}

func TestService_DryRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupRulesTest(t)

	payloads := []string{
		`{"email": "a@x.com"}`,
		`{"email_address": "b@x.com"}`,
		`{"email": "not-an-email"}`,
		`{"name": "no address at all"}`,
	}
	for i, p := range payloads {
		_, err := fx.records.Create(ctx, &domain.RawRecord{
			SourceID:    fx.sourceID,
			ExternalRef: string(rune('a' + i)),
			Payload:     []byte(p),
			Fingerprint: "fp",
		})
		require.NoError(t, err)
	}

	spec := fx.spec("email", "$.email", "$.email_address")
	spec.Validation.Format = "email"
	report, err := fx.svc.DryRun(ctx, spec, 10)
	require.NoError(t, err)

	assert.Equal(t, "email", report.Column)
	assert.Equal(t, 4, report.Sampled)
	assert.Equal(t, 2, report.Resolvable)
	assert.Equal(t, 1, report.Invalid)

	// Dry runs never write rules or canonical data.
	active, err := fx.svc.ListActive(ctx, fx.sourceID)
	require.NoError(t, err)
	assert.Empty(t, active)
}
