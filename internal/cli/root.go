package cli

import "github.com/spf13/cobra"

// RootCmd returns the desvios command with every subcommand attached.
func RootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "desvios",
		Short:   "Maintenance tool for the deviation registry",
		Version: version,
		Long: `desvios manages the per-warehouse deviation stores used by the web form.
It reads the same environment (and .env file) as the server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(InitCmd())
	rootCmd.AddCommand(StatsCmd())
	rootCmd.AddCommand(ExportCmd())
	rootCmd.AddCommand(ImportCmd())
	rootCmd.AddCommand(HashPasswordCmd())

	return rootCmd
}
