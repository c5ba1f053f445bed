package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "deview [CONFIG]",
	Short: "deview is a sign-in service for the review console",
	Long: `deview verifies account credentials and issues signed session tokens.
With no subcommand it starts the server, reading CONFIG if given.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	Version:      Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		return runServer(cmd.Context(), path, "")
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
	rootCmd.SetVersionTemplate("deview {{.Version}}\n")
}
