package main

import (
	"context"
	"os"
	"strings"

	"github.com/charmbracelet/fang"

	"github.com/aretw0/glimpse"
)

func main() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(strings.TrimSpace(glimpse.Version)),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
