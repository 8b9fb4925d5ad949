package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the shared task table. Every method is a single-row (or single
// statement) operation; callers get no cross-statement locking.
type Queue interface {
	CreateTask(ctx context.Context, p CreateTaskParams) (int64, error)
	SetArguments(ctx context.Context, id int64, args []byte) error
	DeleteTask(ctx context.Context, id int64) error
	GetTask(ctx context.Context, id int64) (*Task, error)
	GetStatus(ctx context.Context, id int64) (Status, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	// SetStatusIf writes status only while the row is in when.
	SetStatusIf(ctx context.Context, id int64, status, when Status) (bool, error)
	SetProgress(ctx context.Context, id int64, msg string) error
	SetHost(ctx context.Context, id int64, host string) error
	Reschedule(ctx context.Context, id int64, p RescheduleParams) error
	WaitingInSequence(ctx context.Context, sequenceID string) ([]Task, error)
	ListTasks(ctx context.Context, p ListTasksParams) ([]Task, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	PurgeTasks(ctx context.Context, p PurgeParams) (int64, error)

	CreateRun(ctx context.Context, taskID int64, host string, pid int) (*Run, error)
	FinishRun(ctx context.Context, runID uuid.UUID, status Status, errMsg *string) (*Run, error)
	ListRuns(ctx context.Context, taskID int64, limit int) ([]Run, error)

	Migrate(ctx context.Context) error
	Close()
}

type CreateTaskParams struct {
	Proc       string
	User       string
	Host       string
	Runtime    time.Time
	Sleeptime  string
	Arguments  []byte
	Priority   int
	SequenceID *string
}

type RescheduleParams struct {
	Runtime time.Time
	Status  Status
	// Progress is left untouched when nil.
	Progress *string
}

type ListTasksParams struct {
	Status *Status
	Proc   *string
	Limit  int
	Offset int
}

type PurgeParams struct {
	Statuses []Status
	Proc     *string
	Before   time.Time
	// Archive copies the rows into the history table before deleting them.
	Archive bool
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured driver and makes sure the schema exists.
func Open(ctx context.Context, driver, dsn string) (Queue, error) {
	var (
		q   Queue
		err error
	)
	switch driver {
	case DriverPostgres:
		q, err = NewPostgres(ctx, dsn)
	case DriverSQLite:
		q, err = NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, driver)
	}
	if err != nil {
		return nil, err
	}
	if err := q.Migrate(ctx); err != nil {
		q.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return q, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

// dbTime normalises a timestamp to the precision of the runtime column.
func dbTime(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

func validatePurge(p PurgeParams) error {
	for _, s := range p.Statuses {
		if s.Active() {
			return fmt.Errorf("%w: %s", ErrRunningPurge, s)
		}
		if !s.Valid() {
			return fmt.Errorf("%w: %q", ErrBadStatus, s)
		}
	}
	return nil
}
