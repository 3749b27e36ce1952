package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/config"
	"github.com/gestk/legacy-etl/internal/orchestrator"
)

// Exit codes. A partial failure means the run reached the end with at least
// one non-critical job failed.
const (
	exitOK       = 0
	exitError    = 1
	exitCritical = 2
	exitPartial  = 3
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gestk-etl",
	Short: "Multi-tenant legacy import for gestk",
	Long: "Imports the legacy accounting database into the gestk target store, attributing every " +
		"record to the firm that owned the client company on the record's own date.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, orchestrator.ErrCriticalFailure):
		return exitCritical
	case errors.Is(err, orchestrator.ErrPartialFailure):
		return exitPartial
	default:
		return exitError
	}
}

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}
