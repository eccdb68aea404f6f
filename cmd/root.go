package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string // Log verbosity level

// rootCmd is the base command for the CLI
var rootCmd = baseRootCmd()

func baseRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hmfemu",
		Short: "Gaussian-process emulator for the halo mass function",
		Long: `hmfemu predicts the halo mass function for a cosmology from a set of
simulation snapshots, with an uncertainty estimate for every mass.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
}

// addCommands attaches the global flags and every subcommand to root.
// Subcommands keep their flag values in per-command option structs, so each
// call builds an independent tree.
func addCommands(root *cobra.Command) {
	root.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	root.AddCommand(newPredictCmd(), newValidateCmd(), newServeCmd(), newRunsCmd())
}

// newRootCmd returns a fresh command tree wired like rootCmd.
func newRootCmd() *cobra.Command {
	root := baseRootCmd()
	addCommands(root)
	return root
}

func init() {
	addCommands(rootCmd)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
