package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/glimpse/internal/presentation/graph"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Export the load state machine",
	Long:  `Outputs a Mermaid state diagram of the load controller transitions.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(nil))
	},
}

func init() {
	rootCmd.AddCommand(statesCmd)
}
