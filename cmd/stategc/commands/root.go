// Package commands implements the stategc command line.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/cmd/stategc/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile      string
	outputFormat string
	noColor      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stategc",
	Short: "stategc - Garbage collector for content-addressed state tries",
	Long: `stategc reclaims trie nodes that no retained root can reach.

It combines a mark-and-sweep cycle (BuildReach + SweepExpired) that is
resumable across crashes with an incremental sweep driven by the stale
index written at commit time. Deleted nodes can be staged in a bounded
recycle bin and restored.

Use "stategc [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/stategc/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(recycleCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
