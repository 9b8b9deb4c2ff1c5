package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aretw0/glimpse/pkg/placeholder"
)

var placeholderCmd = &cobra.Command{
	Use:   "placeholder <width> <height>",
	Short: "Synthesize a placeholder raster",
	Long:  `Prints the placeholder data URI for the given intended dimensions, or writes the PNG to a file with --out.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		width, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid width %q: %w", args[0], err)
		}
		height, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid height %q: %w", args[1], err)
		}

		token := placeholder.New().Synthesize(width, height)
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			fmt.Fprintln(cmd.OutOrStdout(), token.DataURI)
			return nil
		}

		data, err := placeholder.PNG(token)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write placeholder: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %dx%d placeholder to %s\n", token.Width, token.Height, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(placeholderCmd)
	placeholderCmd.Flags().StringP("out", "o", "", "Write the PNG to this file")
}
