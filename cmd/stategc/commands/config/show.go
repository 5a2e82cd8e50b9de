package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/stategc/internal/cli/output"
	"github.com/marmos91/stategc/pkg/config"
)

var showEffective bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the loaded configuration",
	Long: `Print the configuration after defaults and environment overrides.

With --effective the gc section shows the collector settings the daemon
actually runs with, i.e. with the prune overrides applied.

Examples:
  stategc config show
  stategc config show -o json --effective`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().BoolVar(&showEffective, "effective", false, "Apply prune overrides to the gc section")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}
	if showEffective {
		cfg.GC = cfg.EffectiveGC()
	}

	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return output.PrintJSON(out, cfg)
	case "", "table", "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
