package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) Queue {
	t.Helper()
	q, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "bibtask.db"))
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func TestSQLiteQueue(t *testing.T) {
	runQueueSuite(t, openSQLite)
}

func TestMigrateIsIdempotent(t *testing.T) {
	q := openSQLite(t)
	require.NoError(t, q.Migrate(context.Background()))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	require.ErrorIs(t, err, ErrUnsupported)
}
