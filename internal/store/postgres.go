package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	// a task process needs very few connections
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{db: pool}, nil
}

func (s *Postgres) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sch_task (
    id         BIGSERIAL PRIMARY KEY,
    proc       VARCHAR(255) NOT NULL,
    usr        VARCHAR(255) NOT NULL DEFAULT '',
    host       VARCHAR(255) NOT NULL DEFAULT '',
    runtime    TIMESTAMPTZ  NOT NULL,
    sleeptime  VARCHAR(20)  NOT NULL DEFAULT '',
    status     VARCHAR(50)  NOT NULL,
    progress   VARCHAR(255) NOT NULL DEFAULT '',
    arguments  BYTEA,
    priority   INTEGER      NOT NULL DEFAULT 0,
    sequenceid VARCHAR(255)
);
CREATE INDEX IF NOT EXISTS sch_task_status_runtime_idx ON sch_task (status, runtime);
CREATE INDEX IF NOT EXISTS sch_task_sequenceid_idx ON sch_task (sequenceid);

CREATE TABLE IF NOT EXISTS hst_task (
    id         BIGINT PRIMARY KEY,
    proc       VARCHAR(255) NOT NULL,
    usr        VARCHAR(255) NOT NULL DEFAULT '',
    host       VARCHAR(255) NOT NULL DEFAULT '',
    runtime    TIMESTAMPTZ  NOT NULL,
    sleeptime  VARCHAR(20)  NOT NULL DEFAULT '',
    status     VARCHAR(50)  NOT NULL,
    progress   VARCHAR(255) NOT NULL DEFAULT '',
    arguments  BYTEA,
    priority   INTEGER      NOT NULL DEFAULT 0,
    sequenceid VARCHAR(255)
);

CREATE TABLE IF NOT EXISTS sch_task_run (
    id          UUID PRIMARY KEY,
    task_id     BIGINT      NOT NULL,
    host        VARCHAR(255) NOT NULL DEFAULT '',
    pid         INTEGER     NOT NULL DEFAULT 0,
    status      VARCHAR(50) NOT NULL,
    error       TEXT,
    started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sch_task_run_task_idx ON sch_task_run (task_id, started_at);
`

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, postgresSchema)
	return err
}

const pgTaskColumns = `id, proc, usr, host, runtime, sleeptime, status, progress, arguments, priority, sequenceid`

func scanPgTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.Proc, &t.User, &t.Host, &t.Runtime, &t.Sleeptime,
		&t.Status, &t.Progress, &t.Arguments, &t.Priority, &t.SequenceID,
	)
	if err != nil {
		return nil, err
	}
	t.Runtime = t.Runtime.Local()
	return &t, nil
}

func (s *Postgres) CreateTask(ctx context.Context, p CreateTaskParams) (int64, error) {
	q := `
INSERT INTO sch_task (proc, usr, host, runtime, sleeptime, status, progress, arguments, priority, sequenceid)
VALUES ($1, $2, $3, $4, $5, 'WAITING', '', $6, $7, $8)
RETURNING id;
`
	var id int64
	err := s.db.QueryRow(ctx, q,
		p.Proc, p.User, p.Host, dbTime(p.Runtime), p.Sleeptime, p.Arguments, p.Priority, p.SequenceID,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Postgres) exec(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetArguments(ctx context.Context, id int64, args []byte) error {
	return s.exec(ctx, `UPDATE sch_task SET arguments = $2 WHERE id = $1`, id, args)
}

func (s *Postgres) DeleteTask(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM sch_task WHERE id = $1`, id)
}

func (s *Postgres) GetTask(ctx context.Context, id int64) (*Task, error) {
	q := `SELECT ` + pgTaskColumns + ` FROM sch_task WHERE id = $1;`
	t, err := scanPgTask(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Postgres) GetStatus(ctx context.Context, id int64) (Status, error) {
	var st Status
	err := s.db.QueryRow(ctx, `SELECT status FROM sch_task WHERE id = $1`, id).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return st, nil
}

func (s *Postgres) SetStatus(ctx context.Context, id int64, status Status) error {
	if !status.Valid() {
		return ErrBadStatus
	}
	return s.exec(ctx, `UPDATE sch_task SET status = $2 WHERE id = $1`, id, string(status))
}

func (s *Postgres) SetStatusIf(ctx context.Context, id int64, status, when Status) (bool, error) {
	if !status.Valid() {
		return false, ErrBadStatus
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE sch_task SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(status), string(when))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) SetProgress(ctx context.Context, id int64, msg string) error {
	return s.exec(ctx, `UPDATE sch_task SET progress = $2 WHERE id = $1`, id, truncateProgress(msg))
}

func (s *Postgres) SetHost(ctx context.Context, id int64, host string) error {
	return s.exec(ctx, `UPDATE sch_task SET host = $2 WHERE id = $1`, id, host)
}

func (s *Postgres) Reschedule(ctx context.Context, id int64, p RescheduleParams) error {
	if !p.Status.Valid() {
		return ErrBadStatus
	}
	var progress *string
	if p.Progress != nil {
		v := truncateProgress(*p.Progress)
		progress = &v
	}
	q := `
UPDATE sch_task
SET runtime = $2,
    status = $3,
    progress = COALESCE($4, progress)
WHERE id = $1;
`
	return s.exec(ctx, q, id, dbTime(p.Runtime), string(p.Status), progress)
}

func (s *Postgres) WaitingInSequence(ctx context.Context, sequenceID string) ([]Task, error) {
	if sequenceID == "" {
		return nil, ErrNoSequence
	}
	q := `SELECT ` + pgTaskColumns + ` FROM sch_task WHERE sequenceid = $1 AND status = 'WAITING' ORDER BY id;`
	return s.queryTasks(ctx, q, sequenceID)
}

func (s *Postgres) ListTasks(ctx context.Context, p ListTasksParams) ([]Task, error) {
	limit := clampLimit(p.Limit)
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT ` + pgTaskColumns + `
FROM sch_task
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::text IS NULL OR proc = $2 OR proc LIKE $2 || ':%')
ORDER BY runtime DESC, id DESC
LIMIT $3 OFFSET $4;
`
	var status *string
	if p.Status != nil {
		sv := string(*p.Status)
		status = &sv
	}
	return s.queryTasks(ctx, q, status, p.Proc, limit, offset)
}

func (s *Postgres) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM sch_task GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

func (s *Postgres) PurgeTasks(ctx context.Context, p PurgeParams) (int64, error) {
	if err := validatePurge(p); err != nil {
		return 0, err
	}
	statuses := make([]string, len(p.Statuses))
	for i, st := range p.Statuses {
		statuses[i] = string(st)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	where := `status = ANY($1) AND runtime < $2 AND ($3::text IS NULL OR proc = $3 OR proc LIKE $3 || ':%')`
	if p.Archive {
		q := `INSERT INTO hst_task (` + pgTaskColumns + `) SELECT ` + pgTaskColumns + ` FROM sch_task WHERE ` + where +
			` ON CONFLICT (id) DO NOTHING`
		if _, err := tx.Exec(ctx, q, statuses, p.Before, p.Proc); err != nil {
			return 0, err
		}
	}
	tag, err := tx.Exec(ctx, `DELETE FROM sch_task WHERE `+where, statuses, p.Before, p.Proc)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const pgRunColumns = `id, task_id, host, pid, status, error, started_at, finished_at`

func scanPgRun(row pgx.Row) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.TaskID, &r.Host, &r.PID, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Postgres) CreateRun(ctx context.Context, taskID int64, host string, pid int) (*Run, error) {
	q := `
INSERT INTO sch_task_run (id, task_id, host, pid, status)
VALUES ($1, $2, $3, $4, 'RUNNING')
RETURNING ` + pgRunColumns + `;
`
	return scanPgRun(s.db.QueryRow(ctx, q, uuid.New(), taskID, host, pid))
}

func (s *Postgres) FinishRun(ctx context.Context, runID uuid.UUID, status Status, errMsg *string) (*Run, error) {
	q := `
UPDATE sch_task_run
SET status = $2,
    error = $3,
    finished_at = $4
WHERE id = $1
RETURNING ` + pgRunColumns + `;
`
	r, err := scanPgRun(s.db.QueryRow(ctx, q, runID, string(status), errMsg, time.Now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Postgres) ListRuns(ctx context.Context, taskID int64, limit int) ([]Run, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + pgRunColumns + ` FROM sch_task_run WHERE task_id = $1 ORDER BY started_at DESC LIMIT $2;`
	rows, err := s.db.Query(ctx, q, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
