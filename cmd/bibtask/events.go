package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/dedezza1D/bibtask/internal/events"
)

var errEventsDisabled = errors.New("NATS_URL is not set; lifecycle events are disabled")

func EventsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow task lifecycle events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			js, err := requireStream(cmd.Context(), get())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return js.Tail(ctx, func(ctx context.Context, subject string, ev events.Event) {
				line := struct {
					Subject string `json:"subject"`
					TraceID string `json:"trace_id,omitempty"`
					events.Event
				}{Subject: subject, Event: ev}
				if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
					line.TraceID = sc.TraceID().String()
				}
				_ = enc.Encode(line)
			})
		},
	}
	cmd.AddCommand(eventsInfoCmd(get), eventsRepublishCmd(get))
	return cmd
}

func eventsInfoCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the lifecycle stream and its size",
		RunE: func(cmd *cobra.Command, args []string) error {
			js, err := requireStream(cmd.Context(), get())
			if err != nil {
				return err
			}
			info, err := js.Info(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "STREAM:", info.Name)
			fmt.Fprintln(out, "SUBJECTS:")
			for _, s := range info.Subjects {
				fmt.Fprintln(out, " -", s)
			}
			fmt.Fprintln(out, "STATE:", "msgs=", info.Msgs, "bytes=", info.Bytes)
			return nil
		},
	}
}

// eventsRepublishCmd publishes the current state of a row, for consumers
// that missed an event.
func eventsRepublishCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "republish <task id>",
		Short: "Publish a status event with the current state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("task id %q is not an integer", args[0])
			}
			a := get()
			js, err := requireStream(cmd.Context(), a)
			if err != nil {
				return err
			}
			st, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			t, err := st.GetTask(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("task #%d: %w", id, err)
			}
			if err := js.Publish(cmd.Context(), events.SubjectStatus, events.FromTask(t)); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s for task #%d.\n", t.Status, id)
			return nil
		},
	}
}

func requireStream(ctx context.Context, a *app) (*events.JetStream, error) {
	js, err := a.stream(ctx)
	if err != nil {
		return nil, err
	}
	if js == nil {
		return nil, errEventsDisabled
	}
	return js, nil
}
