package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/ecolog-backend/internal/db"
)

func newSQLiteRepository(t *testing.T) *DocumentRepository {
	t.Helper()
	ctx := context.Background()

	conn, err := db.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.RunMigrations(ctx, conn, db.Migrations()))
	// Повторный запуск не должен падать.
	require.NoError(t, db.RunMigrations(ctx, conn, db.Migrations()))

	return NewDocumentRepository(conn)
}

func TestDocumentStores(t *testing.T) {
	stores := map[string]DocumentStore{
		"sqlite": newSQLiteRepository(t),
		"memory": NewMemoryDocumentRepository(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, DocumentReports)
			assert.ErrorIs(t, err, ErrDocumentNotFound)

			require.NoError(t, store.Put(ctx, DocumentReports, []byte(`[{"id":1}]`)))
			require.NoError(t, store.Put(ctx, DocumentReports, []byte(`[{"id":2}]`)))

			got, err := store.Get(ctx, DocumentReports)
			require.NoError(t, err)
			assert.JSONEq(t, `[{"id":2}]`, string(got))

			require.NoError(t, store.Delete(ctx, DocumentReports))
			require.NoError(t, store.Delete(ctx, DocumentReports))
			_, err = store.Get(ctx, DocumentReports)
			assert.ErrorIs(t, err, ErrDocumentNotFound)

			assert.NoError(t, store.Ping(ctx))
		})
	}
}

func TestMemoryDocumentRepository_CopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentRepository()

	value := []byte(`{"a":1}`)
	require.NoError(t, store.Put(ctx, DocumentGeocodeCache, value))
	value[2] = 'b'

	got, err := store.Get(ctx, DocumentGeocodeCache)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
}
