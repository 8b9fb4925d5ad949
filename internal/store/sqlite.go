package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the single-host queue. Several task processes may share the
// file; WAL mode and a busy timeout keep single-row updates serialised.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

const sqliteTaskTable = `(
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    proc       TEXT      NOT NULL,
    usr        TEXT      NOT NULL DEFAULT '',
    host       TEXT      NOT NULL DEFAULT '',
    runtime    TIMESTAMP NOT NULL,
    sleeptime  TEXT      NOT NULL DEFAULT '',
    status     TEXT      NOT NULL,
    progress   TEXT      NOT NULL DEFAULT '',
    arguments  BLOB,
    priority   INTEGER   NOT NULL DEFAULT 0,
    sequenceid TEXT
)`

func (s *SQLite) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sch_task ` + sqliteTaskTable,
		`CREATE INDEX IF NOT EXISTS sch_task_status_runtime_idx ON sch_task (status, runtime)`,
		`CREATE INDEX IF NOT EXISTS sch_task_sequenceid_idx ON sch_task (sequenceid)`,
		`CREATE TABLE IF NOT EXISTS hst_task ` + strings.Replace(sqliteTaskTable, "PRIMARY KEY AUTOINCREMENT", "PRIMARY KEY", 1),
		`CREATE TABLE IF NOT EXISTS sch_task_run (
    id          TEXT PRIMARY KEY,
    task_id     INTEGER   NOT NULL,
    host        TEXT      NOT NULL DEFAULT '',
    pid         INTEGER   NOT NULL DEFAULT 0,
    status      TEXT      NOT NULL,
    error       TEXT,
    started_at  TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
)`,
		`CREATE INDEX IF NOT EXISTS sch_task_run_task_idx ON sch_task_run (task_id, started_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

const sqliteTaskColumns = `id, proc, usr, host, runtime, sleeptime, status, progress, arguments, priority, sequenceid`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(row rowScanner) (*Task, error) {
	var (
		t   Task
		seq sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.Proc, &t.User, &t.Host, &t.Runtime, &t.Sleeptime,
		&t.Status, &t.Progress, &t.Arguments, &t.Priority, &seq,
	)
	if err != nil {
		return nil, err
	}
	if seq.Valid {
		t.SequenceID = &seq.String
	}
	t.Runtime = t.Runtime.Local()
	return &t, nil
}

// sqliteTime stores timestamps as UTC text; text order is time order.
func sqliteTime(t time.Time) time.Time {
	return dbTime(t).UTC()
}

func (s *SQLite) CreateTask(ctx context.Context, p CreateTaskParams) (int64, error) {
	q := `
INSERT INTO sch_task (proc, usr, host, runtime, sleeptime, status, progress, arguments, priority, sequenceid)
VALUES (?, ?, ?, ?, ?, 'WAITING', '', ?, ?, ?);
`
	res, err := s.db.ExecContext(ctx, q,
		p.Proc, p.User, p.Host, sqliteTime(p.Runtime), p.Sleeptime, p.Arguments, p.Priority, nullString(p.SequenceID),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func (s *SQLite) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) SetArguments(ctx context.Context, id int64, args []byte) error {
	return s.exec(ctx, `UPDATE sch_task SET arguments = ? WHERE id = ?`, args, id)
}

func (s *SQLite) DeleteTask(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM sch_task WHERE id = ?`, id)
}

func (s *SQLite) GetTask(ctx context.Context, id int64) (*Task, error) {
	q := `SELECT ` + sqliteTaskColumns + ` FROM sch_task WHERE id = ?`
	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLite) GetStatus(ctx context.Context, id int64) (Status, error) {
	var st Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM sch_task WHERE id = ?`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return st, nil
}

func (s *SQLite) SetStatus(ctx context.Context, id int64, status Status) error {
	if !status.Valid() {
		return ErrBadStatus
	}
	return s.exec(ctx, `UPDATE sch_task SET status = ? WHERE id = ?`, string(status), id)
}

func (s *SQLite) SetStatusIf(ctx context.Context, id int64, status, when Status) (bool, error) {
	if !status.Valid() {
		return false, ErrBadStatus
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sch_task SET status = ? WHERE id = ? AND status = ?`,
		string(status), id, string(when))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) SetProgress(ctx context.Context, id int64, msg string) error {
	return s.exec(ctx, `UPDATE sch_task SET progress = ? WHERE id = ?`, truncateProgress(msg), id)
}

func (s *SQLite) SetHost(ctx context.Context, id int64, host string) error {
	return s.exec(ctx, `UPDATE sch_task SET host = ? WHERE id = ?`, host, id)
}

func (s *SQLite) Reschedule(ctx context.Context, id int64, p RescheduleParams) error {
	if !p.Status.Valid() {
		return ErrBadStatus
	}
	var progress sql.NullString
	if p.Progress != nil {
		progress = sql.NullString{String: truncateProgress(*p.Progress), Valid: true}
	}
	q := `UPDATE sch_task SET runtime = ?, status = ?, progress = COALESCE(?, progress) WHERE id = ?`
	return s.exec(ctx, q, sqliteTime(p.Runtime), string(p.Status), progress, id)
}

func (s *SQLite) WaitingInSequence(ctx context.Context, sequenceID string) ([]Task, error) {
	if sequenceID == "" {
		return nil, ErrNoSequence
	}
	q := `SELECT ` + sqliteTaskColumns + ` FROM sch_task WHERE sequenceid = ? AND status = 'WAITING' ORDER BY id`
	return s.queryTasks(ctx, q, sequenceID)
}

func (s *SQLite) ListTasks(ctx context.Context, p ListTasksParams) ([]Task, error) {
	limit := clampLimit(p.Limit)
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if p.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Proc != nil {
		where = append(where, "(proc = ? OR proc LIKE ?)")
		args = append(args, *p.Proc, *p.Proc+":%")
	}
	q := `SELECT ` + sqliteTaskColumns + ` FROM sch_task`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY runtime DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return s.queryTasks(ctx, q, args...)
}

func (s *SQLite) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
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

func (s *SQLite) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM sch_task GROUP BY status`)
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

func (s *SQLite) PurgeTasks(ctx context.Context, p PurgeParams) (int64, error) {
	if err := validatePurge(p); err != nil {
		return 0, err
	}
	if len(p.Statuses) == 0 {
		return 0, nil
	}

	marks := strings.TrimSuffix(strings.Repeat("?,", len(p.Statuses)), ",")
	where := `status IN (` + marks + `) AND runtime < ?`
	args := make([]any, 0, len(p.Statuses)+3)
	for _, st := range p.Statuses {
		args = append(args, string(st))
	}
	args = append(args, sqliteTime(p.Before))
	if p.Proc != nil {
		where += ` AND (proc = ? OR proc LIKE ?)`
		args = append(args, *p.Proc, *p.Proc+":%")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if p.Archive {
		q := `INSERT OR IGNORE INTO hst_task (` + sqliteTaskColumns + `) SELECT ` + sqliteTaskColumns +
			` FROM sch_task WHERE ` + where
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sch_task WHERE `+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

const sqliteRunColumns = `id, task_id, host, pid, status, error, started_at, finished_at`

func scanSQLiteRun(row rowScanner) (*Run, error) {
	var (
		r        Run
		id       string
		errMsg   sql.NullString
		finished sql.NullTime
	)
	if err := row.Scan(&id, &r.TaskID, &r.Host, &r.PID, &r.Status, &errMsg, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	r.ID = parsed
	if errMsg.Valid {
		r.Error = &errMsg.String
	}
	if finished.Valid {
		t := finished.Time.Local()
		r.FinishedAt = &t
	}
	r.StartedAt = r.StartedAt.Local()
	return &r, nil
}

func (s *SQLite) CreateRun(ctx context.Context, taskID int64, host string, pid int) (*Run, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sch_task_run (id, task_id, host, pid, status, started_at) VALUES (?, ?, ?, ?, 'RUNNING', ?)`,
		id.String(), taskID, host, pid, sqliteTime(time.Now()))
	if err != nil {
		return nil, err
	}
	return s.getRun(ctx, id)
}

func (s *SQLite) getRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	q := `SELECT ` + sqliteRunColumns + ` FROM sch_task_run WHERE id = ?`
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLite) FinishRun(ctx context.Context, runID uuid.UUID, status Status, errMsg *string) (*Run, error) {
	err := s.exec(ctx,
		`UPDATE sch_task_run SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), nullString(errMsg), sqliteTime(time.Now()), runID.String())
	if err != nil {
		return nil, err
	}
	return s.getRun(ctx, runID)
}

func (s *SQLite) ListRuns(ctx context.Context, taskID int64, limit int) ([]Run, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + sqliteRunColumns + ` FROM sch_task_run WHERE task_id = ? ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
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
