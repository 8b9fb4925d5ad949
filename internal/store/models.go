package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting        Status = "WAITING"
	StatusScheduled      Status = "SCHEDULED"
	StatusRunning        Status = "RUNNING"
	StatusContinuing     Status = "CONTINUING"
	StatusAboutToSleep   Status = "ABOUT TO SLEEP"
	StatusSleeping       Status = "SLEEPING"
	StatusAboutToStop    Status = "ABOUT TO STOP"
	StatusStopped        Status = "STOPPED"
	StatusSuiciding      Status = "SUICIDING"
	StatusSuicided       Status = "SUICIDED"
	StatusDone           Status = "DONE"
	StatusDoneWithErrors Status = "DONE WITH ERRORS"
	StatusErrorsReported Status = "ERRORS REPORTED"
	StatusError          Status = "ERROR"
	StatusCError         Status = "CERROR"
)

// Statuses lists every value the status column may hold.
var Statuses = []Status{
	StatusWaiting, StatusScheduled, StatusRunning, StatusContinuing,
	StatusAboutToSleep, StatusSleeping, StatusAboutToStop, StatusStopped,
	StatusSuiciding, StatusSuicided, StatusDone, StatusDoneWithErrors,
	StatusErrorsReported, StatusError, StatusCError,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Runnable reports whether a dispatch may start from s.
func (s Status) Runnable() bool {
	return s == StatusWaiting || s == StatusScheduled
}

// Active reports whether a process is expected to own the row.
func (s Status) Active() bool {
	switch s {
	case StatusRunning, StatusContinuing, StatusAboutToSleep, StatusSleeping, StatusAboutToStop:
		return true
	}
	return false
}

// MaxProgressLen is the width of the progress column.
const MaxProgressLen = 255

type Task struct {
	ID         int64     `json:"id"`
	Proc       string    `json:"proc"`
	User       string    `json:"user"`
	Host       string    `json:"host"`
	Runtime    time.Time `json:"runtime"`
	Sleeptime  string    `json:"sleeptime"`
	Status     Status    `json:"status"`
	Progress   string    `json:"progress"`
	Arguments  []byte    `json:"arguments"`
	Priority   int       `json:"priority"`
	SequenceID *string   `json:"sequenceid,omitempty"`
}

// Daemon reports whether the task recycles its own row after each run.
func (t *Task) Daemon() bool {
	return t.Sleeptime != ""
}

type Run struct {
	ID         uuid.UUID  `json:"id"`
	TaskID     int64      `json:"task_id"`
	Host       string     `json:"host"`
	PID        int        `json:"pid"`
	Status     Status     `json:"status"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func truncateProgress(msg string) string {
	if len(msg) <= MaxProgressLen {
		return msg
	}
	return strings.ToValidUTF8(msg[:MaxProgressLen], "")
}
