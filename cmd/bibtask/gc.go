package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
)

func GCCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete or archive finished tasks older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetString("older-than")
			statuses, _ := cmd.Flags().GetStringSlice("status")
			kind, _ := cmd.Flags().GetString("kind")
			archive, _ := cmd.Flags().GetBool("archive")

			p, err := purgeParams(time.Now(), olderThan, statuses, kind, archive)
			if err != nil {
				return err
			}

			a := get()
			st, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			n, err := st.PurgeTasks(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("gc: %w", err)
			}

			verb := "Deleted"
			if archive {
				verb = "Archived"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d task(s) older than %s.\n", verb, n, p.Before.Format(schedule.TimeLayout))
			return nil
		},
	}
	cmd.Flags().String("older-than", "30d", "Age of the runtime beyond which rows are collected")
	cmd.Flags().StringSlice("status", []string{string(store.StatusDone)}, "Statuses to collect")
	cmd.Flags().String("kind", "", "Only collect tasks of this kind")
	cmd.Flags().Bool("archive", false, "Copy rows to the history table before deleting them")
	return cmd
}

func purgeParams(now time.Time, olderThan string, statuses []string, kind string, archive bool) (store.PurgeParams, error) {
	age, err := schedule.ParseShift(olderThan)
	if err != nil {
		return store.PurgeParams{}, err
	}
	if !age.Positive() {
		return store.PurgeParams{}, fmt.Errorf("%w: --older-than %q must be positive", schedule.ErrBadShift, olderThan)
	}

	p := store.PurgeParams{
		Before:  schedule.Shift{Days: -age.Days, Duration: -age.Duration}.Add(now),
		Archive: archive,
	}
	for _, s := range statuses {
		p.Statuses = append(p.Statuses, store.Status(s))
	}
	if kind != "" {
		p.Proc = &kind
	}
	return p, nil
}
