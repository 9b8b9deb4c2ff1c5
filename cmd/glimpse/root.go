package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aretw0/glimpse/internal/cli"
	"github.com/aretw0/glimpse/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "glimpse",
	Short: "Glimpse is an adaptive image delivery pipeline",
	Long: `Glimpse negotiates the best image encoding, composes transformation URLs,
defers downloads until images approach the viewport and falls back to the
original asset when a transformed one fails.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load .env file if present (ignore errors)
		_ = godotenv.Load()
	},
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (debug, info, warn, error)")
}

// loadConfig reads the configuration and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
		if err := cfg.Validate(); err != nil {
			return cfg, nil, err
		}
	}
	return cfg, cli.NewLogger(cfg.Log), nil
}
