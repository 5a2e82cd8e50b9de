package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the stategc configuration file.

Checks for syntax errors, missing required fields, and invalid values,
including the prune overrides as the daemon would apply them.

Examples:
  # Validate default config
  stategc config validate

  # Validate specific config file
  stategc config validate --config /etc/stategc/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}

	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	warnings := collectWarnings(cfg)

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	eff := cfg.EffectiveGC()
	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Storage:         %s %s\n", cfg.Storage.Engine, cfg.Storage.Path)
	_, _ = fmt.Fprintf(out, "  Window:          %d days\n", eff.WindowDays)
	_, _ = fmt.Fprintf(out, "  Protected roots: %d\n", eff.ProtectedRootsCount)
	_, _ = fmt.Fprintf(out, "  Bloom bits:      %d\n", eff.BloomBits)
	_, _ = fmt.Fprintf(out, "  Recycle bin:     %t\n", eff.UseRecycleBin)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

func collectWarnings(cfg *config.Config) []string {
	var warnings []string

	if cfg.Storage.Engine == config.EngineMemory {
		warnings = append(warnings, "In-memory storage: nothing is persisted between runs")
	}
	if cfg.GC.DryRun {
		warnings = append(warnings, "gc.dry_run is set: collections never delete anything")
	}
	if cfg.Prune.Enable && !cfg.GC.SkipConfirm {
		warnings = append(warnings, "gc.skip_confirm is false: the daemon needs --yes to collect")
	}
	if cfg.GC.UseRecycleBin && cfg.GC.RecycleBin.MaxEntries == 0 && cfg.GC.RecycleBin.MaxBytes == 0 {
		warnings = append(warnings, "Recycle bin enabled without limits")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		warnings = append(warnings, "Metrics enabled without a port")
	}
	return warnings
}
