package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "schemaflow/internal/db"
	"schemaflow/internal/domain"
)

func setupSourceTest(t *testing.T) *SourceRepo {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	return NewSourceRepo(writeDB, readDB)
}

func TestSourceRepo_CreateAndGet(t *testing.T) {
	t.Parallel()
	repo := setupSourceTest(t)
	ctx := context.Background()

	src, err := repo.Create(ctx, &domain.Source{
		Name:   "member-scraper",
		Type:   "scrape",
		Origin: "https://example.com/members",
		Status: domain.SourceStatusActive,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, src.ID)
	assert.False(t, src.CreatedAt.IsZero())
	assert.Zero(t, src.IngestSeq)

	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "member-scraper", got.Name)
	assert.Equal(t, domain.SourceStatusActive, got.Status)

	byName, err := repo.GetByName(ctx, "member-scraper")
	require.NoError(t, err)
	assert.Equal(t, src.ID, byName.ID)
}

func TestSourceRepo_ReadsBypassBusyWriter(t *testing.T) {
	t.Parallel()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	repo := NewSourceRepo(writeDB, readDB)
	ctx := context.Background()

	src, err := repo.Create(ctx, &domain.Source{Name: "busy", Type: "webhook"})
	require.NoError(t, err)

	// Occupy the write pool's only connection. Lookups must still answer
	// through the read pool instead of queueing behind the writer.
	tx, err := writeDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	got, err := repo.GetByID(readCtx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "busy", got.Name)

	_, _, err = repo.List(readCtx, domain.PageRequest{})
	require.NoError(t, err)
}

func TestSourceRepo_DuplicateName(t *testing.T) {
	t.Parallel()
	repo := setupSourceTest(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, &domain.Source{Name: "dup", Type: "webhook", Status: domain.SourceStatusActive})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.Source{Name: "dup", Type: "webhook", Status: domain.SourceStatusActive})
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestSourceRepo_GetMissing(t *testing.T) {
	t.Parallel()
	repo := setupSourceTest(t)

	_, err := repo.GetByID(context.Background(), domain.NewID())
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestSourceRepo_SetStatus(t *testing.T) {
	t.Parallel()
	repo := setupSourceTest(t)
	ctx := context.Background()

	src, err := repo.Create(ctx, &domain.Source{Name: "s", Type: "csv-feed", Status: domain.SourceStatusActive})
	require.NoError(t, err)

	require.NoError(t, repo.SetStatus(ctx, src.ID, domain.SourceStatusPaused))
	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatusPaused, got.Status)

	err = repo.SetStatus(ctx, src.ID, domain.SourceStatus("bogus"))
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSourceRepo_NextIngestSeq(t *testing.T) {
	t.Parallel()
	repo := setupSourceTest(t)
	ctx := context.Background()

	src, err := repo.Create(ctx, &domain.Source{Name: "seq", Type: "webhook", Status: domain.SourceStatusActive})
	require.NoError(t, err)

	for want := int64(1); want <= 5; want++ {
		seq, err := repo.NextIngestSeq(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.IngestSeq)
}

func TestSourceRepo_List(t *testing.T) {
	t.Parallel()
	repo := setupSourceTest(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := repo.Create(ctx, &domain.Source{Name: name, Type: "webhook", Status: domain.SourceStatusActive})
		require.NoError(t, err)
	}

	page1, total, err := repo.List(ctx, domain.PageRequest{MaxResults: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page1, 2)

	token := domain.NextPageToken(0, 2, total)
	require.NotEmpty(t, token)
	page2, _, err := repo.List(ctx, domain.PageRequest{MaxResults: 2, PageToken: token})
	require.NoError(t, err)
	assert.Len(t, page2, 1)
}
