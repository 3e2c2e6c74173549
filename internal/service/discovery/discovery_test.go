package discovery

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

func setupDiscoveryTest(t *testing.T, maxPaths int) (*Service, *repository.DiscoveredFieldRepo, string) {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	sources := repository.NewSourceRepo(writeDB, readDB)
	src, err := sources.Create(context.Background(), &domain.Source{
		Name: "d-src", Type: "webhook", Status: domain.SourceStatusActive,
	})
	require.NoError(t, err)

	fields := repository.NewDiscoveredFieldRepo(writeDB, readDB)
	svc := NewService(fields, maxPaths, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, fields, src.ID
}

func parse(t *testing.T, raw string) domain.Value {
	t.Helper()
	v, err := domain.ParsePayload([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestWalk_PathsAndTypes(t *testing.T) {
	t.Parallel()

	obs := Walk(parse(t, `{
		"name": "Ada",
		"age": 36,
		"active": true,
		"contact": {"email": "a@example.com"},
		"licenses": [{"state": "CA"}, {"state": "NY"}],
		"fax": null
	}`))

	byPath := make(map[string]domain.FieldObservation, len(obs))
	for _, o := range obs {
		byPath[o.FieldPath] = o
	}

	assert.Equal(t, domain.TypeString, byPath["$.name"].Type)
	assert.Equal(t, "Ada", byPath["$.name"].Example)
	assert.Equal(t, domain.TypeNumber, byPath["$.age"].Type)
	assert.Equal(t, domain.TypeBoolean, byPath["$.active"].Type)
	assert.Equal(t, domain.TypeString, byPath["$.contact.email"].Type)
	assert.Equal(t, domain.TypeNull, byPath["$.fax"].Type)
	assert.False(t, byPath["$.fax"].HasValue)

	// Both array elements fold into one wildcard path.
	state, ok := byPath["$.licenses[].state"]
	require.True(t, ok)
	assert.Equal(t, domain.TypeString, state.Type)
	assert.Len(t, obs, 6)
}

func TestWalk_NonNullBeatsNullWithinRecord(t *testing.T) {
	t.Parallel()

	obs := Walk(parse(t, `{"items":[{"v":null},{"v":"x"}]}`))
	require.Len(t, obs, 1)
	assert.Equal(t, "$.items[].v", obs[0].FieldPath)
	assert.Equal(t, domain.TypeString, obs[0].Type)
	assert.True(t, obs[0].HasValue)
}

func TestWalk_DelimiterKeysRoundTrip(t *testing.T) {
	t.Parallel()

	payload := parse(t, `{"a.b":"flat","a":{"b":"nested"},"x[0]":1}`)
	obs := Walk(payload)

	// Every discovered path resolves against the payload it came from, and
	// the flat dotted key stays distinct from the nested structure.
	byPath := make(map[string]domain.FieldObservation, len(obs))
	for _, o := range obs {
		byPath[o.FieldPath] = o
		got := domain.LookupPath(payload, o.FieldPath)
		require.NotEmpty(t, got, "path %q must resolve", o.FieldPath)
	}
	require.Len(t, obs, 3)

	assert.Equal(t, "flat", byPath[domain.ChildPath(domain.PathRoot, "a.b")].Example)
	assert.Equal(t, "nested", byPath["$.a.b"].Example)
	assert.Equal(t, domain.TypeNumber, byPath[domain.ChildPath(domain.PathRoot, "x[0]")].Type)
}

func TestWalk_EmptyContainers(t *testing.T) {
	t.Parallel()

	obs := Walk(parse(t, `{"meta":{},"tags":[]}`))
	byPath := make(map[string]domain.FieldObservation, len(obs))
	for _, o := range obs {
		byPath[o.FieldPath] = o
	}
	assert.Equal(t, domain.TypeObject, byPath["$.meta"].Type)
	assert.Equal(t, domain.TypeArray, byPath["$.tags"].Type)
}

func TestWalk_LongExampleTruncated(t *testing.T) {
	t.Parallel()

	long := make([]byte, maxExampleLen*2)
	for i := range long {
		long[i] = 'x'
	}
	obs := Walk(domain.Value{Kind: domain.TypeObject, Fields: map[string]domain.Value{
		"blob": {Kind: domain.TypeString, Str: string(long)},
	}})
	require.Len(t, obs, 1)
	assert.Len(t, obs[0].Example, maxExampleLen)
}

func TestObserveRecord_CountsPerRecordNotPerValue(t *testing.T) {
	t.Parallel()
	svc, fields, sourceID := setupDiscoveryTest(t, 100)
	ctx := context.Background()

	// Three array elements in one record count as one sighting.
	err := svc.ObserveRecord(ctx, sourceID, 1,
		parse(t, `{"licenses":[{"state":"CA"},{"state":"NY"},{"state":"TX"}]}`))
	require.NoError(t, err)

	f, err := fields.Get(ctx, sourceID, "$.licenses[].state")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Occurrences)

	err = svc.ObserveRecord(ctx, sourceID, 2, parse(t, `{"licenses":[{"state":"WA"}]}`))
	require.NoError(t, err)

	f, err = fields.Get(ctx, sourceID, "$.licenses[].state")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.Occurrences)
	assert.Equal(t, int64(2), f.LastSeenSeq)
}

func TestObserveRecord_ConvergesAcrossVariants(t *testing.T) {
	t.Parallel()
	svc, fields, sourceID := setupDiscoveryTest(t, 100)
	ctx := context.Background()

	require.NoError(t, svc.ObserveRecord(ctx, sourceID, 1, parse(t, `{"email":"a@x.com"}`)))
	require.NoError(t, svc.ObserveRecord(ctx, sourceID, 2, parse(t, `{"email_address":"b@x.com"}`)))
	require.NoError(t, svc.ObserveRecord(ctx, sourceID, 3, parse(t, `{"primary_email":"c@x.com"}`)))

	n, err := fields.CountBySource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, path := range []string{"$.email", "$.email_address", "$.primary_email"} {
		f, err := fields.Get(ctx, sourceID, path)
		require.NoError(t, err)
		assert.Equal(t, domain.TypeString, f.InferredType, path)
		assert.Equal(t, domain.MappingUnmapped, f.Mapping, path)
	}
}

func TestObserveRecord_DynamicMapCeiling(t *testing.T) {
	t.Parallel()
	svc, fields, sourceID := setupDiscoveryTest(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.ObserveRecord(ctx, sourceID, 1, parse(t, `{"a":1,"b":2,"c":3}`)))

	// The ceiling is reached; novel member keys fold into the dynamic-map
	// bucket instead of new rows.
	require.NoError(t, svc.ObserveRecord(ctx, sourceID, 2, parse(t, `{"d":4,"e":5}`)))

	n, err := fields.CountBySource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	folded, err := fields.Get(ctx, sourceID, domain.ChildPath(domain.PathRoot, domain.DynamicMapKey))
	require.NoError(t, err)
	assert.Equal(t, int64(1), folded.Occurrences)

	// Known paths keep aggregating normally past the ceiling.
	require.NoError(t, svc.ObserveRecord(ctx, sourceID, 3, parse(t, `{"a":9}`)))
	f, err := fields.Get(ctx, sourceID, "$.a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.Occurrences)
}
