package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runQueueSuite exercises the Queue contract against any driver.
func runQueueSuite(t *testing.T, open func(t *testing.T) Queue) {
	t.Run("CreateAndGetTask", func(t *testing.T) { testCreateAndGetTask(t, open(t)) })
	t.Run("StatusTransitions", func(t *testing.T) { testStatusTransitions(t, open(t)) })
	t.Run("RescheduleKeepsProgressWhenNil", func(t *testing.T) { testReschedule(t, open(t)) })
	t.Run("ProgressTruncated", func(t *testing.T) { testProgressTruncated(t, open(t)) })
	t.Run("WaitingInSequence", func(t *testing.T) { testWaitingInSequence(t, open(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, open(t)) })
	t.Run("PurgeArchives", func(t *testing.T) { testPurge(t, open(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, open(t)) })
	t.Run("MissingRows", func(t *testing.T) { testMissingRows(t, open(t)) })
}

func mustCreate(t *testing.T, q Queue, p CreateTaskParams) int64 {
	t.Helper()
	if p.Runtime.IsZero() {
		p.Runtime = time.Now()
	}
	id, err := q.CreateTask(context.Background(), p)
	require.NoError(t, err)
	require.Positive(t, id)
	return id
}

func testCreateAndGetTask(t *testing.T, q Queue) {
	ctx := context.Background()
	seq := "nightly"
	runtime := time.Date(2026, 3, 14, 22, 0, 0, 0, time.Local)

	id := mustCreate(t, q, CreateTaskParams{
		Proc:       "bibindex:nightly",
		User:       "alice",
		Runtime:    runtime,
		Sleeptime:  "1d",
		Arguments:  []byte(`["bibindex","-w","global"]`),
		Priority:   3,
		SequenceID: &seq,
	})

	got, err := q.GetTask(ctx, id)
	require.NoError(t, err)

	want := &Task{
		ID:         id,
		Proc:       "bibindex:nightly",
		User:       "alice",
		Runtime:    runtime,
		Sleeptime:  "1d",
		Status:     StatusWaiting,
		Arguments:  []byte(`["bibindex","-w","global"]`),
		Priority:   3,
		SequenceID: &seq,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("task mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got.Daemon())
}

func testStatusTransitions(t *testing.T, q Queue) {
	ctx := context.Background()
	id := mustCreate(t, q, CreateTaskParams{Proc: "demo"})

	require.NoError(t, q.SetStatus(ctx, id, StatusRunning))

	ok, err := q.SetStatusIf(ctx, id, StatusAboutToStop, StatusWaiting)
	require.NoError(t, err)
	assert.False(t, ok, "guarded write must not apply outside its status")

	ok, err = q.SetStatusIf(ctx, id, StatusAboutToStop, StatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAboutToStop, st)

	assert.ErrorIs(t, q.SetStatus(ctx, id, Status("BOGUS")), ErrBadStatus)

	require.NoError(t, q.SetHost(ctx, id, "node-1"))
	got, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "node-1", got.Host)
}

func testReschedule(t *testing.T, q Queue) {
	ctx := context.Background()
	id := mustCreate(t, q, CreateTaskParams{Proc: "demo"})
	require.NoError(t, q.SetProgress(ctx, id, "halfway"))

	next := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, q.Reschedule(ctx, id, RescheduleParams{Runtime: next, Status: StatusWaiting}))

	got, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Runtime.Equal(next), "runtime %s want %s", got.Runtime, next)
	assert.Equal(t, "halfway", got.Progress)

	msg := "Postponed 1 time(s)"
	require.NoError(t, q.Reschedule(ctx, id, RescheduleParams{Runtime: next, Status: StatusWaiting, Progress: &msg}))
	got, err = q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, msg, got.Progress)
}

func testProgressTruncated(t *testing.T, q Queue) {
	ctx := context.Background()
	id := mustCreate(t, q, CreateTaskParams{Proc: "demo"})

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, q.SetProgress(ctx, id, string(long)))

	got, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Progress, MaxProgressLen)
}

func testWaitingInSequence(t *testing.T, q Queue) {
	ctx := context.Background()
	seq := "chain-a"
	other := "chain-b"

	a := mustCreate(t, q, CreateTaskParams{Proc: "demo", SequenceID: &seq})
	b := mustCreate(t, q, CreateTaskParams{Proc: "demo", SequenceID: &seq})
	c := mustCreate(t, q, CreateTaskParams{Proc: "demo", SequenceID: &seq})
	mustCreate(t, q, CreateTaskParams{Proc: "demo", SequenceID: &other})
	require.NoError(t, q.SetStatus(ctx, c, StatusDone))

	got, err := q.WaitingInSequence(ctx, seq)
	require.NoError(t, err)

	ids := make([]int64, 0, len(got))
	for _, tk := range got {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []int64{a, b}, ids)

	_, err = q.WaitingInSequence(ctx, "")
	assert.ErrorIs(t, err, ErrNoSequence)
}

func testListAndCount(t *testing.T, q Queue) {
	ctx := context.Background()
	mustCreate(t, q, CreateTaskParams{Proc: "bibindex"})
	mustCreate(t, q, CreateTaskParams{Proc: "bibindex:weekly"})
	done := mustCreate(t, q, CreateTaskParams{Proc: "bibrank"})
	require.NoError(t, q.SetStatus(ctx, done, StatusDone))

	kind := "bibindex"
	got, err := q.ListTasks(ctx, ListTasksParams{Proc: &kind})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	st := StatusDone
	got, err = q.ListTasks(ctx, ListTasksParams{Status: &st})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, done, got[0].ID)

	got, err = q.ListTasks(ctx, ListTasksParams{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	counts, err := q.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusWaiting: 2, StatusDone: 1}, counts)
}

func testPurge(t *testing.T, q Queue) {
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	done := mustCreate(t, q, CreateTaskParams{Proc: "demo", Runtime: old})
	require.NoError(t, q.SetStatus(ctx, done, StatusDone))
	recent := mustCreate(t, q, CreateTaskParams{Proc: "demo"})
	require.NoError(t, q.SetStatus(ctx, recent, StatusDone))
	waiting := mustCreate(t, q, CreateTaskParams{Proc: "demo", Runtime: old})

	_, err := q.PurgeTasks(ctx, PurgeParams{Statuses: []Status{StatusRunning}, Before: time.Now()})
	assert.ErrorIs(t, err, ErrRunningPurge)

	n, err := q.PurgeTasks(ctx, PurgeParams{
		Statuses: []Status{StatusDone},
		Before:   time.Now().Add(-24 * time.Hour),
		Archive:  true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = q.GetTask(ctx, done)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range []int64{recent, waiting} {
		_, err := q.GetTask(ctx, id)
		assert.NoError(t, err)
	}
}

func testRuns(t *testing.T, q Queue) {
	ctx := context.Background()
	id := mustCreate(t, q, CreateTaskParams{Proc: "demo"})

	run, err := q.CreateRun(ctx, id, "node-1", 4242)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	msg := "boom"
	finished, err := q.FinishRun(ctx, run.ID, StatusCError, &msg)
	require.NoError(t, err)
	assert.Equal(t, StatusCError, finished.Status)
	require.NotNil(t, finished.Error)
	assert.Equal(t, "boom", *finished.Error)
	assert.NotNil(t, finished.FinishedAt)

	runs, err := q.ListRuns(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, 4242, runs[0].PID)
}

func testMissingRows(t *testing.T, q Queue) {
	ctx := context.Background()
	_, err := q.GetTask(ctx, 999999)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = q.GetStatus(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, q.SetProgress(ctx, 999999, "x"), ErrNotFound)
	assert.ErrorIs(t, q.DeleteTask(ctx, 999999), ErrNotFound)
}
