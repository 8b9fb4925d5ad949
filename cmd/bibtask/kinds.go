package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func KindsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the task kinds and post-process steps this binary knows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tDESCRIPTION")
			for _, name := range a.kinds.Names() {
				k, _ := a.kinds.Get(name)
				fmt.Fprintf(w, "%s\t%s\n", k.Name, k.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			post := postProcessors(a.logger, nil)
			fmt.Fprintln(cmd.OutOrStdout(), "\nPost-process steps:")
			for _, name := range post.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), " -", name)
			}
			return nil
		},
	}
}
