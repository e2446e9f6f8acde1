// Package main provides the entry point for the repository analyzer
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "analyzer",
		Short:        "Repository analyzer backed by pluggable AI providers",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: ./configs/config.yaml or ./config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProvidersCmd())
	return cmd
}
