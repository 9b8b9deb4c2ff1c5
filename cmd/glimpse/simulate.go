package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/glimpse/internal/cli"
	"github.com/aretw0/glimpse/internal/presentation/tui"
	"github.com/aretw0/glimpse/pkg/domain"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <src>",
	Short: "Trace one image request offline",
	Long: `Runs a request against an in-memory asset catalog and prints every state transition.
Use --transformed-ok and --original-ok to script the outcome of each download.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		req, err := requestFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		opts := cli.SimulateOptions{
			Request:     req,
			HostOrigin:  cfg.HostOrigin,
			LoadTimeout: cfg.LoadTimeout,
		}
		if h, _ := flags.GetString("host"); h != "" {
			opts.HostOrigin = h
		}
		opts.NextGen, _ = flags.GetBool("next-gen")
		opts.TransformedOK, _ = flags.GetBool("transformed-ok")
		opts.OriginalOK, _ = flags.GetBool("original-ok")
		opts.Report, _ = flags.GetBool("report")
		opts.Intersection.Ratio, _ = flags.GetFloat64("ratio")
		opts.Intersection.Distance, _ = flags.GetInt("distance")
		opts.Wait, _ = flags.GetDuration("wait")
		opts.Teardown, _ = flags.GetBool("teardown")
		opts.Mermaid, _ = flags.GetBool("mermaid")
		if flags.Changed("timeout") {
			opts.LoadTimeout, _ = flags.GetDuration("timeout")
		}

		color := tui.IsTerminal(os.Stdout)
		res, err := cli.Simulate(cmd.Context(), opts, logger, cmd.OutOrStdout(), color, tui.NewRenderer(os.Stdout))
		if err != nil {
			return err
		}
		if res.Final == domain.StateFallbackErrored || res.Final == domain.StateErrored {
			logger.Debug("Simulation ended unavailable", "err", res.Err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	addRequestFlags(simulateCmd)
	f := simulateCmd.Flags()
	f.String("host", "", "Hosting origin (overrides configuration)")
	f.Bool("next-gen", true, "Whether the simulated client decodes the next-gen encoding")
	f.Bool("transformed-ok", true, "Whether the transformed asset downloads successfully")
	f.Bool("original-ok", true, "Whether the original asset downloads successfully")
	f.Bool("report", true, "Report an intersection for lazy requests")
	f.Float64("ratio", 1, "Visible ratio of the reported intersection")
	f.Int("distance", 0, "Distance in pixels of the reported intersection")
	f.Duration("timeout", 0, "Per-attempt load timeout (overrides configuration)")
	f.Duration("wait", 0, "How long to wait for an outcome (default 5s)")
	f.Bool("teardown", false, "Tear the request down after it settles")
	f.Bool("mermaid", false, "Print the state diagram with the visited path highlighted")
}
