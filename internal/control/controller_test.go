package control

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/store/storetest"
)

// fakeProcess records suspensions and exits instead of performing them.
type fakeProcess struct {
	suspended int
	onSuspend func()
	exitCode  *int
}

func (p *fakeProcess) Suspend() error {
	p.suspended++
	if p.onSuspend != nil {
		p.onSuspend()
	}
	return nil
}

func (p *fakeProcess) Exit(code int) { p.exitCode = &code }

type fixture struct {
	q    store.Queue
	id   int64
	proc *fakeProcess
	ctl  *Controller
}

func setup(t *testing.T, window string, now time.Time) *fixture {
	t.Helper()
	q := storetest.SQLite(t)
	id, err := q.CreateTask(context.Background(), store.CreateTaskParams{Proc: "demo", Runtime: now})
	require.NoError(t, err)
	require.NoError(t, q.SetStatus(context.Background(), id, store.StatusRunning))

	w, err := schedule.ParseWindow(window)
	require.NoError(t, err)
	proc := &fakeProcess{}
	return &fixture{
		q:    q,
		id:   id,
		proc: proc,
		ctl: New(Options{
			Store:   q,
			TaskID:  id,
			Window:  w,
			Process: proc,
			Now:     func() time.Time { return now },
		}),
	}
}

func (f *fixture) status(t *testing.T) store.Status {
	t.Helper()
	st, err := f.q.GetStatus(context.Background(), f.id)
	require.NoError(t, err)
	return st
}

func (f *fixture) set(t *testing.T, st store.Status) {
	t.Helper()
	require.NoError(t, f.q.SetStatus(context.Background(), f.id, st))
}

var noon = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func TestCheckpointRunningIsNoop(t *testing.T) {
	f := setup(t, "", noon)
	require.NoError(t, f.ctl.Checkpoint(context.Background(), true))
	assert.Equal(t, store.StatusRunning, f.status(t))
	assert.Zero(t, f.proc.suspended)
	assert.False(t, f.ctl.Stopped())
}

func TestTerminalCheckpointStops(t *testing.T) {
	f := setup(t, "", noon)
	f.set(t, store.StatusAboutToStop)

	err := f.ctl.Checkpoint(context.Background(), true)
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, store.StatusStopped, f.status(t))
	assert.True(t, f.ctl.Stopped())
}

func TestNonTerminalCheckpointLeavesStopPending(t *testing.T) {
	f := setup(t, "", noon)
	f.set(t, store.StatusAboutToStop)

	require.NoError(t, f.ctl.Checkpoint(context.Background(), false))
	assert.Equal(t, store.StatusAboutToStop, f.status(t))

	assert.ErrorIs(t, f.ctl.Checkpoint(context.Background(), true), ErrStopped)
	assert.Equal(t, store.StatusStopped, f.status(t))
}

func TestSleepSuspendsAndResumes(t *testing.T) {
	f := setup(t, "", noon)
	f.set(t, store.StatusAboutToSleep)

	var during store.Status
	f.proc.onSuspend = func() { during = f.status(t) }

	require.NoError(t, f.ctl.Checkpoint(context.Background(), false))
	assert.Equal(t, 1, f.proc.suspended)
	assert.Equal(t, store.StatusSleeping, during)
	assert.Equal(t, store.StatusRunning, f.status(t))
}

func TestStopWhileSleeping(t *testing.T) {
	for _, terminal := range []bool{false, true} {
		f := setup(t, "", noon)
		f.set(t, store.StatusAboutToSleep)
		f.proc.onSuspend = func() { f.set(t, store.StatusAboutToStop) }

		err := f.ctl.Checkpoint(context.Background(), terminal)
		if terminal {
			assert.ErrorIs(t, err, ErrStopped)
			assert.Equal(t, store.StatusStopped, f.status(t))
		} else {
			assert.NoError(t, err)
			assert.Equal(t, store.StatusAboutToStop, f.status(t))
		}
	}
}

func TestWindowClosingStopsAtTerminalCheckpoint(t *testing.T) {
	f := setup(t, "22:00-03:00", noon)

	require.NoError(t, f.ctl.Checkpoint(context.Background(), false))
	assert.Equal(t, store.StatusRunning, f.status(t))

	assert.ErrorIs(t, f.ctl.Checkpoint(context.Background(), true), ErrStopped)
	assert.Equal(t, store.StatusStopped, f.status(t))
}

func TestWindowOpenKeepsRunning(t *testing.T) {
	f := setup(t, "10:00-14:00", noon)
	require.NoError(t, f.ctl.Checkpoint(context.Background(), true))
	assert.Equal(t, store.StatusRunning, f.status(t))
}

func TestSignalIntentsAreFoldedAtCheckpoint(t *testing.T) {
	f := setup(t, "", noon)
	ctx := context.Background()

	f.ctl.handle(ctx, syscall.SIGUSR1)
	assert.Equal(t, store.StatusRunning, f.status(t), "handlers do not touch the store")

	require.NoError(t, f.ctl.Checkpoint(ctx, true))
	assert.Equal(t, 1, f.proc.suspended)
	assert.Equal(t, store.StatusRunning, f.status(t))

	f.ctl.handle(ctx, syscall.SIGTERM)
	f.ctl.handle(ctx, syscall.SIGUSR1)
	assert.ErrorIs(t, f.ctl.Checkpoint(ctx, true), ErrStopped)
	assert.Equal(t, 1, f.proc.suspended, "stop wins over sleep")
}

func TestStopSignalDuringSleep(t *testing.T) {
	f := setup(t, "", noon)
	f.set(t, store.StatusAboutToSleep)
	f.proc.onSuspend = func() { f.ctl.RequestStop() }

	require.NoError(t, f.ctl.Checkpoint(context.Background(), false))
	assert.Equal(t, store.StatusAboutToStop, f.status(t))
}

func TestIgnoredSignalsLeaveStatus(t *testing.T) {
	f := setup(t, "", noon)
	f.ctl.handle(context.Background(), syscall.SIGINT)
	f.ctl.handle(context.Background(), syscall.SIGCONT)
	require.NoError(t, f.ctl.Checkpoint(context.Background(), true))
	assert.Equal(t, store.StatusRunning, f.status(t))
}

func TestSuicide(t *testing.T) {
	f := setup(t, "", noon)
	var seen store.Status
	f.ctl.onSuicide = func(context.Context) { seen = f.status(t) }

	f.ctl.handle(context.Background(), syscall.SIGABRT)

	assert.Equal(t, store.StatusSuiciding, seen)
	assert.Equal(t, store.StatusSuicided, f.status(t))
	require.NotNil(t, f.proc.exitCode)
	assert.Equal(t, 0, *f.proc.exitCode)
}

func TestDebugStartsOnce(t *testing.T) {
	f := setup(t, "", noon)
	calls := 0
	f.ctl.debug = func() (string, error) {
		calls++
		return "127.0.0.1:0", nil
	}

	f.ctl.handle(context.Background(), syscall.SIGUSR2)
	f.ctl.handle(context.Background(), syscall.SIGUSR2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, store.StatusRunning, f.status(t))
}

func TestUpdateProgress(t *testing.T) {
	f := setup(t, "", noon)
	require.NoError(t, f.ctl.UpdateProgress(context.Background(), "Done 1 out of 3"))
	got, err := f.q.GetTask(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, "Done 1 out of 3", got.Progress)
}
