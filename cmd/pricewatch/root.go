package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/rl1809/pricewatch/internal/config"
	"github.com/rl1809/pricewatch/internal/core/service"
	"github.com/rl1809/pricewatch/internal/obs"
)

const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeBusy means another reconciliation held the run lock.
	ExitCodeBusy = 2
)

var rootCmd = &cobra.Command{
	Use:   "pricewatch",
	Short: "Refresh tracked item prices and notify subscribers",
	Long: `pricewatch keeps a catalog of tracked products up to date. Each run
fetches every product page, appends the observed price to its history,
recomputes lowest, highest and average prices and emails subscribers when
the price drops, hits an all-time low or the product is back in stock.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		obs.InitLoggerTo(os.Stderr, config.Load().Log.Level)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, service.ErrRunInProgress) {
		return ExitCodeBusy
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTriggerCmd())
}
