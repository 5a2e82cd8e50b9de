// Package config implements the "stategc config" command group.
package config

import "github.com/spf13/cobra"

// Cmd is the parent command for configuration management.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Create, inspect and validate the stategc configuration file.

Subcommands:
  init      Write a default configuration file
  show      Print the effective configuration
  validate  Check a configuration file
  edit      Open the configuration in $EDITOR
  schema    Print the JSON schema of the configuration`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(editCmd)
	Cmd.AddCommand(schemaCmd)
}

// configPath returns the --config value inherited from the root command.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
