package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with defaults.

The file goes to $XDG_CONFIG_HOME/stategc/config.yaml unless --config is
given. An existing file is kept unless --force is set.

Examples:
  # Create the default config
  stategc config init

  # Create a config at a custom path
  stategc config init --config /etc/stategc/config.yaml`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var (
		path string
		err  error
	)
	if p := configPath(cmd); p != "" {
		path, err = p, config.InitConfigToPath(p, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration written to %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintf(out, "  1. Set storage.path to your state database\n")
	_, _ = fmt.Fprintf(out, "  2. Check it with: stategc config validate --config %s\n", path)
	_, _ = fmt.Fprintf(out, "  3. Preview a collection: stategc gc run --dry-run --config %s\n", path)
	return nil
}
