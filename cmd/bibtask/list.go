package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
)

func ListCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally by status or kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			kind, _ := cmd.Flags().GetString("kind")
			limit, _ := cmd.Flags().GetInt("limit")

			p := store.ListTasksParams{Limit: limit}
			if status != "" {
				s := store.Status(status)
				if !s.Valid() {
					return fmt.Errorf("%w: %q", store.ErrBadStatus, status)
				}
				p.Status = &s
			}
			if kind != "" {
				p.Proc = &kind
			}

			st, err := get().queue(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := st.ListTasks(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROC\tUSER\tRUNTIME\tSLEEP\tSTATUS\tHOST\tPROGRESS")
			for _, t := range tasks {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Proc, t.User, t.Runtime.Format(schedule.TimeLayout),
					t.Sleeptime, t.Status, t.Host, t.Progress)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("status", "", "Filter by status (WAITING, RUNNING, DONE, ...)")
	cmd.Flags().String("kind", "", "Filter by task kind")
	cmd.Flags().Int("limit", 50, "Maximum rows to show (1..200)")
	return cmd
}

func StatusCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many tasks are in each status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := get().queue(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := st.CountByStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to count tasks: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "--- Task Queue Status ---")
			if len(counts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks in the queue.")
				return nil
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\t%d\n", s, counts[store.Status(s)])
			}
			return nil
		},
	}
}

func RunsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs <task id>",
		Short: "Show the recorded runs of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("task id %q is not an integer", args[0])
			}
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := get().queue(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := st.ListRuns(cmd.Context(), id, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded for task #%d.\n", id)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tHOST\tPID\tSTATUS\tSTARTED\tTOOK\tERROR")
			for _, r := range runs {
				took := "-"
				if r.FinishedAt != nil {
					took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				errMsg := ""
				if r.Error != nil {
					errMsg = *r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					r.ID, r.Host, r.PID, r.Status, r.StartedAt.Format(schedule.TimeLayout), took, errMsg)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to show (1..200)")
	return cmd
}
