package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/observability"
	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/task"
)

var postponedRe = regexp.MustCompile(`Postponed (\d+) time\(s\)`)

// postponedProgress increments the counter kept in the progress field.
func postponedProgress(progress string) string {
	n := 0
	if m := postponedRe.FindStringSubmatch(progress); m != nil {
		n, _ = strconv.Atoi(m[1])
	}
	return fmt.Sprintf("Postponed %d time(s)", n+1)
}

// nextEligible is the runtime a postponed task moves to.
func nextEligible(t *store.Task, tc *task.TaskContext, now time.Time) (time.Time, error) {
	if tc.Params.FixedTime && t.Daemon() {
		return schedule.Align(t.Sleeptime, t.Runtime, now)
	}
	return tc.Window.Next(now), nil
}

// postpone reschedules a task dispatched outside its runtime limit, together
// with the WAITING tasks of its sequence. It is not an error.
func (e *Engine) postpone(ctx context.Context, t *store.Task, tc *task.TaskContext, now time.Time) (store.Status, error) {
	next, err := nextEligible(t, tc, now)
	if err != nil {
		return "", err
	}

	rows := []store.Task{*t}
	if tc.SequenceID != "" {
		siblings, err := e.store.WaitingInSequence(ctx, tc.SequenceID)
		if err != nil {
			return "", fmt.Errorf("load sequence %s: %w", tc.SequenceID, err)
		}
		for _, s := range siblings {
			if s.ID != t.ID {
				rows = append(rows, s)
			}
		}
	}

	var own string
	for _, r := range rows {
		progress := postponedProgress(r.Progress)
		if r.ID == t.ID {
			own = progress
		}
		err := e.store.Reschedule(ctx, r.ID, store.RescheduleParams{
			Runtime:  next,
			Status:   store.StatusWaiting,
			Progress: &progress,
		})
		if err != nil {
			return "", fmt.Errorf("postpone task #%d: %w", r.ID, err)
		}
		e.logger.Info("task postponed",
			zap.Int64("task_id", r.ID),
			zap.String("runtime_limit", tc.Window.String()),
			zap.Time("next_runtime", next),
			zap.String("progress", progress),
		)
		e.publish(ctx, e.logger, r.ID)
	}
	observability.TasksPostponedTotal.WithLabelValues(tc.Kind).Inc()
	if tc.Notify() {
		e.sendSummary(ctx, e.logger.With(zap.Int64("task_id", t.ID)), tc, store.StatusWaiting, own)
	}
	return store.StatusWaiting, nil
}
