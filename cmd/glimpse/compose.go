package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/glimpse"
	"github.com/aretw0/glimpse/internal/cli"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
	"github.com/aretw0/glimpse/pkg/ports"
)

var composeCmd = &cobra.Command{
	Use:   "compose <src>",
	Short: "Print the delivery URL for an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		req, err := requestFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		var probe ports.CapabilityProbe = cli.NewProbe(cfg.Probe)
		if accept, _ := cmd.Flags().GetString("accept"); accept != "" {
			probe = negotiate.AcceptHeader(accept)
		}
		host := cfg.HostOrigin
		if h, _ := cmd.Flags().GetString("host"); h != "" {
			host = h
		}

		pipe, err := glimpse.New(
			glimpse.WithLogger(logger),
			glimpse.WithHostOrigin(host),
			glimpse.WithFormatName(cfg.FormatName),
			glimpse.WithProbe(probe),
		)
		if err != nil {
			return err
		}

		url, format := pipe.Compose(req)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", url, format)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(composeCmd)
	addRequestFlags(composeCmd)
	composeCmd.Flags().String("host", "", "Hosting origin (overrides configuration)")
	composeCmd.Flags().String("accept", "", "Negotiate from an Accept header instead of the configured probe")
	composeCmd.Flags().BoolP("verbose", "v", false, "Also print the negotiated format")
}

// addRequestFlags registers the image request flags shared by several commands.
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("width", "W", 0, "Intended display width in pixels")
	cmd.Flags().IntP("height", "H", 0, "Intended display height in pixels")
	cmd.Flags().IntP("quality", "q", 0, "Encoding quality (1-100)")
	cmd.Flags().Bool("no-next-gen", false, "Never request the next-gen encoding")
	cmd.Flags().String("format", "", "Force a format (nextgen or original)")
	cmd.Flags().Bool("priority", false, "Load immediately without waiting for visibility")
	cmd.Flags().Bool("eager", false, "Use the eager loading strategy")
}

func requestFromFlags(cmd *cobra.Command, src string) (domain.ImageRequest, error) {
	req := domain.NewImageRequest(src)
	req.Width, _ = cmd.Flags().GetInt("width")
	req.Height, _ = cmd.Flags().GetInt("height")
	req.Quality, _ = cmd.Flags().GetInt("quality")
	if noNextGen, _ := cmd.Flags().GetBool("no-next-gen"); noNextGen {
		req.DisableNextGen = true
	}
	format, _ := cmd.Flags().GetString("format")
	req.Format = domain.FormatPreference(format)
	req.Priority, _ = cmd.Flags().GetBool("priority")
	if eager, _ := cmd.Flags().GetBool("eager"); eager {
		req.Loading = domain.LoadingEager
	}
	return req, req.Validate()
}
