package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/rl1809/pricewatch/internal/app"
	"github.com/rl1809/pricewatch/internal/config"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Reconcile the whole catalog once and print the run summary",
		Long: `run performs a single reconciliation and exits. It is meant to be
invoked by cron or a scheduler. The summary is written to stdout as JSON; the
exit code is non-zero when the catalog could not be loaded or another run
is in progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, runErr := a.Service.Run(cmd.Context())

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			return runErr
		},
	}
}
