package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nzbvault/nzbvault/internal/config"
)

func init() {
	configInitCmd := &cobra.Command{
		Use:   "config-init",
		Short: "Write a default config.yaml to --config's path",
		RunE:  runConfigInit,
	}
	rootCmd.AddCommand(configInitCmd)
}

// runConfigInit renders config.Default() to configFile, refusing to
// overwrite an existing file so a stray re-run can't clobber a tuned
// configuration.
func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", configFile)
	}

	out, err := config.Default().Marshal()
	if err != nil {
		return fmt.Errorf("rendering default config: %w", err)
	}

	if err := os.WriteFile(configFile, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", configFile, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configFile)
	return nil
}
