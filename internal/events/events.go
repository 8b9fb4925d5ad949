package events

import (
	"context"
	"sync"
	"time"

	"github.com/dedezza1D/bibtask/internal/store"
)

const (
	SubjectSubmitted = "bibtask.submitted"
	SubjectStatus    = "bibtask.status"
)

// Event is a task lifecycle notification.
type Event struct {
	TaskID   int64        `json:"task_id"`
	Proc     string       `json:"proc"`
	Status   store.Status `json:"status"`
	Progress string       `json:"progress,omitempty"`
	Host     string       `json:"host,omitempty"`
	Runtime  time.Time    `json:"runtime"`
	At       time.Time    `json:"at"`
}

func FromTask(t *store.Task) Event {
	return Event{
		TaskID:   t.ID,
		Proc:     t.Proc,
		Status:   t.Status,
		Progress: t.Progress,
		Host:     t.Host,
		Runtime:  t.Runtime,
		At:       time.Now(),
	}
}

// Publisher delivers lifecycle events. Callers treat publishing as best
// effort and only log failures.
type Publisher interface {
	Publish(ctx context.Context, subject string, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

type Recorded struct {
	Subject string
	Event   Event
}

func (r *Recorder) Publish(_ context.Context, subject string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Subject: subject, Event: ev})
	return nil
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}
