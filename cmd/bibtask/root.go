package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() (*cobra.Command, func()) {
	var a *app

	root := &cobra.Command{
		Use:          "bibtask",
		Short:        "Database-backed batch task runtime",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp()
			return err
		},
	}

	// subcommands resolve the app when they run, after the pre-run built it
	get := func() *app { return a }
	root.AddCommand(
		SubmitCmd(get),
		EnqueueCmd(get),
		RunCmd(get),
		ListCmd(get),
		StatusCmd(get),
		RunsCmd(get),
		GCCmd(get),
		ServeCmd(get),
		EventsCmd(get),
		KindsCmd(get),
	)
	return root, func() {
		if a != nil {
			a.close()
		}
	}
}
