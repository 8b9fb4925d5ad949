// Package storetest opens throwaway queue stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dedezza1D/bibtask/internal/store"
)

// SQLite returns a migrated store in a temporary directory, closed when the
// test ends.
func SQLite(t testing.TB) store.Queue {
	t.Helper()
	q, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "bibtask.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(q.Close)
	return q
}
