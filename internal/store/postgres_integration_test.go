package store

import (
	"context"
	"os"
	"testing"
)

func TestPostgresQueue(t *testing.T) {
	dsn := os.Getenv("BIBTASK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BIBTASK_TEST_DATABASE_URL not set")
	}

	runQueueSuite(t, func(t *testing.T) Queue {
		st, err := Open(context.Background(), DriverPostgres, dsn)
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		pg := st.(*Postgres)
		if _, err := pg.db.Exec(context.Background(), `TRUNCATE sch_task, sch_task_run, hst_task RESTART IDENTITY`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(st.Close)
		return st
	})
}
