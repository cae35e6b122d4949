package cli

import (
	"github.com/spf13/cobra"
)

var configDir string

// NewRootCommand builds the crm command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "crm",
		Short:         "Real-estate CRM deal pipeline service",
		Long:          `crm serves the deal pipeline API and runs its maintenance jobs: migrations, seeding, overdue scans, event listeners and outbox replay.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding base.yaml and <CONFIG_ENV>.yaml (default $CONFIG_DIR or ./config)")

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedCommand(),
		newScanOverdueCommand(),
		newListenCommand(),
		newOutboxCommand(),
		newTokenCommand(),
	)
	return rootCmd
}
