package intake

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
	"schemaflow/internal/service/discovery"
)

type intakeFixture struct {
	svc     *Service
	sources *repository.SourceRepo
	records *repository.RawRecordRepo
	fields  *repository.DiscoveredFieldRepo
	src     *domain.Source
}

func setupIntakeTest(t *testing.T) *intakeFixture {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)

	sources := repository.NewSourceRepo(writeDB, readDB)
	records := repository.NewRawRecordRepo(writeDB, readDB)
	fields := repository.NewDiscoveredFieldRepo(writeDB, readDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	disc := discovery.NewService(fields, 1000, logger)

	src, err := sources.Create(context.Background(), &domain.Source{
		Name: "crm", Type: "webhook", Status: domain.SourceStatusActive,
	})
	require.NoError(t, err)

	return &intakeFixture{
		svc:     NewService(sources, records, disc, logger),
		sources: sources,
		records: records,
		fields:  fields,
		src:     src,
	}
}

func TestIngest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupIntakeTest(t)

	res, err := fx.svc.Ingest(ctx, Request{
		SourceID:    fx.src.ID,
		ExternalRef: "evt-1",
		Payload:     []byte(`{"email": "a@x.com", "age": 36}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RecordID)
	require.NotEmpty(t, res.Fingerprint)

	rec, err := fx.records.GetByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingPending, rec.Status)
	assert.Equal(t, "evt-1", rec.ExternalRef)
	assert.JSONEq(t, `{"email": "a@x.com", "age": 36}`, string(rec.Payload))
	assert.EqualValues(t, 1, rec.IngestSeq)
	assert.True(t, rec.Discovered)

	// Discovery ran inline: both fields are visible before materialization.
	field, err := fx.fields.Get(ctx, fx.src.ID, "$.email")
	require.NoError(t, err)
	assert.Equal(t, domain.TypeString, field.InferredType)
	assert.EqualValues(t, 1, field.LastSeenSeq)

	field, err = fx.fields.Get(ctx, fx.src.ID, "$.age")
	require.NoError(t, err)
	assert.Equal(t, domain.TypeNumber, field.InferredType)
}

func TestIngest_BySourceName(t *testing.T) {
	t.Parallel()
	fx := setupIntakeTest(t)

	res, err := fx.svc.Ingest(context.Background(), Request{
		SourceName: "crm",
		Payload:    []byte(`{"a": 1}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RecordID)
}

func TestIngest_SameShapeSameFingerprint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupIntakeTest(t)

	r1, err := fx.svc.Ingest(ctx, Request{SourceID: fx.src.ID, Payload: []byte(`{"email": "a@x.com"}`)})
	require.NoError(t, err)
	r2, err := fx.svc.Ingest(ctx, Request{SourceID: fx.src.ID, Payload: []byte(`{"email": "b@y.org"}`)})
	require.NoError(t, err)
	r3, err := fx.svc.Ingest(ctx, Request{SourceID: fx.src.ID, Payload: []byte(`{"email": 42}`)})
	require.NoError(t, err)

	assert.Equal(t, r1.Fingerprint, r2.Fingerprint, "values do not affect the shape")
	assert.NotEqual(t, r1.Fingerprint, r3.Fingerprint, "types do")
}

func TestIngest_SequencesPerSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupIntakeTest(t)

	for i := 0; i < 3; i++ {
		_, err := fx.svc.Ingest(ctx, Request{SourceID: fx.src.ID, Payload: []byte(`{"n": 1}`)})
		require.NoError(t, err)
	}

	src, err := fx.sources.GetByID(ctx, fx.src.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.IngestSeq)

	field, err := fx.fields.Get(ctx, fx.src.ID, "$.n")
	require.NoError(t, err)
	assert.EqualValues(t, 3, field.Occurrences)
	assert.EqualValues(t, 3, field.LastSeenSeq)
}

func TestIngest_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupIntakeTest(t)

	t.Run("unknown source", func(t *testing.T) {
		_, err := fx.svc.Ingest(ctx, Request{SourceID: domain.NewID(), Payload: []byte(`{}`)})
		var nfe *domain.NotFoundError
		require.ErrorAs(t, err, &nfe)
	})

	t.Run("no source identifier", func(t *testing.T) {
		_, err := fx.svc.Ingest(ctx, Request{Payload: []byte(`{}`)})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("missing payload", func(t *testing.T) {
		_, err := fx.svc.Ingest(ctx, Request{SourceID: fx.src.ID})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := fx.svc.Ingest(ctx, Request{SourceID: fx.src.ID, Payload: []byte(`{"a":`)})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)

		// Nothing was stored.
		n, err := fx.records.CountPending(ctx, fx.src.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("paused source", func(t *testing.T) {
		paused, err := fx.sources.Create(ctx, &domain.Source{
			Name: "paused-src", Type: "webhook", Status: domain.SourceStatusPaused,
		})
		require.NoError(t, err)

		_, err = fx.svc.Ingest(ctx, Request{SourceID: paused.ID, Payload: []byte(`{}`)})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})
}

func TestRequeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := setupIntakeTest(t)

	res, err := fx.svc.Ingest(ctx, Request{SourceID: fx.src.ID, Payload: []byte(`{"a": 1}`)})
	require.NoError(t, err)

	// Only errored records can be re-queued.
	_, err = fx.svc.Requeue(ctx, res.RecordID)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	claimed, err := fx.records.Claim(ctx, res.RecordID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, fx.records.MarkError(ctx, res.RecordID, "boom"))

	rec, err := fx.svc.Requeue(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingPending, rec.Status)
	assert.Nil(t, rec.ErrorReason)
}
