package repository

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "schemaflow/internal/db"
	"schemaflow/internal/domain"
)

func setupCanonicalTest(t *testing.T) *CanonicalStoreRepo {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	return NewCanonicalStore(writeDB, readDB)
}

func TestValidIdent(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidIdent("members"))
	assert.True(t, ValidIdent("email_address2"))
	assert.False(t, ValidIdent(""))
	assert.False(t, ValidIdent("Members"))
	assert.False(t, ValidIdent("1table"))
	assert.False(t, ValidIdent("drop table"))
	assert.False(t, ValidIdent(`x"; DROP TABLE members;--`))
}

func TestCanonicalStore_EnsureTableIdempotent(t *testing.T) {
	t.Parallel()
	store := setupCanonicalTest(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureTable(ctx, "members", "email"))
	require.NoError(t, store.EnsureTable(ctx, "members", "email"))

	n, err := store.CountRows(ctx, "members")
	require.NoError(t, err)
	assert.Zero(t, n)

	err = store.EnsureTable(ctx, "bad name", "email")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCanonicalStore_EnsureColumnsAdditive(t *testing.T) {
	t.Parallel()
	store := setupCanonicalTest(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureTable(ctx, "members", "email"))
	require.NoError(t, store.EnsureColumns(ctx, "members", []string{"first_name", "last_name"}))
	// Repeats and overlaps are no-ops.
	require.NoError(t, store.EnsureColumns(ctx, "members", []string{"last_name", "phone"}))

	require.NoError(t, store.Upsert(ctx, "members", "email", "a@example.com", map[string]string{
		"first_name": "Ada", "last_name": "Lovelace", "phone": "5551234567",
	}))
	row, err := store.GetRow(ctx, "members", "email", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", *row["first_name"])
}

func TestCanonicalStore_UpsertNeverNullsUncoveredColumns(t *testing.T) {
	t.Parallel()
	store := setupCanonicalTest(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureTable(ctx, "members", "email"))
	require.NoError(t, store.EnsureColumns(ctx, "members", []string{"first_name", "phone"}))

	require.NoError(t, store.Upsert(ctx, "members", "email", "a@example.com", map[string]string{
		"first_name": "Ada", "phone": "5551234567",
	}))

	// A narrower pass updates only the columns it produced.
	require.NoError(t, store.Upsert(ctx, "members", "email", "a@example.com", map[string]string{
		"first_name": "Adelaide",
	}))

	row, err := store.GetRow(ctx, "members", "email", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Adelaide", *row["first_name"])
	require.NotNil(t, row["phone"])
	assert.Equal(t, "5551234567", *row["phone"])

	n, err := store.CountRows(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCanonicalStore_UpsertKeyOnly(t *testing.T) {
	t.Parallel()
	store := setupCanonicalTest(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureTable(ctx, "members", "email"))
	require.NoError(t, store.EnsureColumns(ctx, "members", []string{"name"}))

	require.NoError(t, store.Upsert(ctx, "members", "email", "a@example.com", map[string]string{
		"name": "Ada",
	}))
	// Key-only upsert conflicts and changes nothing.
	require.NoError(t, store.Upsert(ctx, "members", "email", "a@example.com", map[string]string{}))

	row, err := store.GetRow(ctx, "members", "email", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", *row["name"])

	err = store.Upsert(ctx, "members", "email", "", map[string]string{"name": "x"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCanonicalStore_GetRowMissing(t *testing.T) {
	t.Parallel()
	store := setupCanonicalTest(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureTable(ctx, "members", "email"))
	_, err := store.GetRow(ctx, "members", "email", "nobody@example.com")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
