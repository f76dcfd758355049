package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/knitstore/internal/domain"
)

// newTestDB connects using KNITSTORE_TEST_POSTGRES_DSN and skips the test
// if it isn't set or the database isn't reachable; there is no in-memory
// Postgres double in this module's dependency set.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("KNITSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KNITSTORE_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	require.NoError(t, db.EnsureSchema(ctx))
	t.Cleanup(db.Close)

	return db
}

func TestTracker_MarkMissingAndResolve(t *testing.T) {
	db := newTestDB(t)
	tr := New(db)
	ctx := context.Background()

	parent := domain.Key{"pg-test-file", "rev-1"}
	child := domain.Key{"pg-test-file", "rev-2"}

	require.NoError(t, tr.MarkMissing(ctx, parent, child))

	missing, err := tr.ListMissing(ctx)
	require.NoError(t, err)

	found := false
	for _, e := range missing {
		if e.Key.Equal(parent) && e.ReferencedBy.Equal(child) {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, tr.MarkResolved(ctx, parent))

	missing, err = tr.ListMissing(ctx)
	require.NoError(t, err)
	for _, e := range missing {
		assert.False(t, e.Key.Equal(parent) && e.ReferencedBy.Equal(child))
	}
}
