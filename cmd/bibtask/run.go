package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/api/httpapi"
	"github.com/dedezza1D/bibtask/internal/engine"
	"github.com/dedezza1D/bibtask/internal/observability"
	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/submit"
	"github.com/dedezza1D/bibtask/internal/task"
)

func RunCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <kind> <task id>",
		Short: "Run a queued task in this process (the dispatcher's entry point)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("task id %q is not an integer", args[1])
			}

			a := get()
			ctx := cmd.Context()
			a.tracing(ctx, "bibtask-run")
			observability.RegisterMetrics()

			st, err := a.queue(ctx)
			if err != nil {
				return err
			}
			sub, err := a.submitter(ctx, st)
			if err != nil {
				return err
			}

			eng := engine.New(engine.Options{
				Store:          st,
				Kinds:          a.kinds,
				PostProcessors: postProcessors(a.logger, sub),
				Events:         a.publisher(ctx),
				Mailer:         a.mailer(),
				Logger:         a.logger,
				Debug:          httpapi.DebugServer(a.cfg.DebugAddr, a.logger),
				Host:           a.cfg.Hostname,
				RunDir:         a.cfg.RunDir,
				LogDir:         a.cfg.LogDir,
				LogMaxSizeMB:   a.cfg.LogMaxSizeMB,
				LogMaxBackups:  a.cfg.LogMaxBackups,
				StopOnError:    a.cfg.StopOnError,
				Signals:        true,
			})

			status, err := eng.Run(ctx, args[0], id)
			if err != nil {
				a.logger.Error("task not run", zap.Int64("task_id", id), zap.String("kind", args[0]), zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task #%d: %s\n", id, status)
			return nil
		},
	}
}

func postProcessors(logger *zap.Logger, sub *submit.Submitter) *engine.PostProcessRegistry {
	post := engine.DefaultPostProcessors(logger)
	post.Register("submit", submitStep(sub, logger))
	return post
}

// submitStep queues a follow-up task once this one is DONE:
// submit[kind=bibindex,args=-w global --reindex,always=true].
func submitStep(sub *submit.Submitter, logger *zap.Logger) engine.PostProcessor {
	return func(ctx context.Context, tc *task.TaskContext, status store.Status, args map[string]string) error {
		if status != store.StatusDone && args["always"] != "true" {
			return nil
		}
		kind := args["kind"]
		if kind == "" {
			return fmt.Errorf("submit: kind is required")
		}
		id, err := sub.Enqueue(ctx, kind, tc.User, strings.Fields(args["args"]))
		if err != nil {
			return fmt.Errorf("submit %s: %w", kind, err)
		}
		logger.Info("follow-up task submitted",
			zap.Int64("task_id", tc.ID),
			zap.Int64("follow_up_id", id),
			zap.String("kind", kind),
		)
		return nil
	}
}
