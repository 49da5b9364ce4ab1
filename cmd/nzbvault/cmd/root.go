// Package cmd wires the nzbvault CLI, grounded on
// javi11-altmount/cmd/altmount/cmd/root.go's persistent --config flag
// and subcommand-registration shape, trimmed of that tree's setup/scan/
// speedtest/config-editing subcommands (none are in scope here).
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nzbvault",
	Short: "nzbvault WebDAV gateway backed by NZB/Usenet",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config.yaml", "config file path")
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
