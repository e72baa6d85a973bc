package main

import (
	"github.com/spf13/cobra"

	"github.com/rl1809/pricewatch/internal/app"
	"github.com/rl1809/pricewatch/internal/config"
	"github.com/rl1809/pricewatch/internal/obs"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the item store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			obs.Logger.Info("migrated", "driver", cfg.Store.Driver)
			return nil
		},
	}
}
