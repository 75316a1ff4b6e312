// Package main is the entry point for the gatewayd binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagConfigPath string
var flagVerbose bool

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to the gateway config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "HTTP gateway that dispatches prompts to a CLI AI assistant child process",
}
