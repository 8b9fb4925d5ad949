package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func SubmitCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <kind> [task arguments...]",
		Short: "Queue a task as the current user, subject to authorization",
		Long: "Queue a task as the current user. Scheduling options (-s, -t, -L, -u, ...)\n" +
			"are read from the task arguments; everything else is passed to the task.",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			st, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			sub, err := a.submitter(cmd.Context(), st)
			if err != nil {
				return err
			}
			id, err := sub.Submit(cmd.Context(), args[0], currentUser(), args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task #%d submitted.\n", id)
			return nil
		},
	}
}

func EnqueueCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:                "enqueue <kind> [task arguments...]",
		Short:              "Insert a task row without authorization checks",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			st, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			sub, err := a.submitter(cmd.Context(), st)
			if err != nil {
				return err
			}
			id, err := sub.Enqueue(cmd.Context(), args[0], currentUser(), args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task #%d enqueued.\n", id)
			return nil
		},
	}
}
