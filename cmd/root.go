package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unieasy/places-cli/internal/config"
)

var (
	cfg     *config.Config
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "places-cli",
	Short: "Seed and inspect the places table",
	Long: "Fetches nearby points of interest from the Google Places API, maps them onto app categories " +
		"and reconciles them into the places table without touching manually curated on-campus rows.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return &inputError{err: fmt.Errorf("load config: %w", err)}
		}
		cfg = c

		if verbose {
			cfg.Log.Level = "debug"
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return &inputError{err: fmt.Errorf("init logger: %w", err)}
		}
		if cfg.EnvFile != "" {
			zap.L().Debug("loaded env file", zap.String("path", cfg.EnvFile))
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &inputError{err: err}
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
