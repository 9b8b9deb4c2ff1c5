package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/glimpse/internal/cli"
	"github.com/aretw0/glimpse/internal/presentation/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Exposes URL composition, placeholders and managed image requests over HTTP, with live transition streams and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}
		if tui.IsTerminal(os.Stdout) {
			tui.PrintBanner(os.Stdout)
		}
		return cli.Serve(cmd.Context(), cfg, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides configuration)")
}
