package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/internal/cli/output"
	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/config"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/store/badger"
	"github.com/marmos91/stategc/pkg/store/memory"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the configuration selected by --config and initializes
// the logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the engine selected in cfg.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Engine {
	case config.EngineMemory:
		logger.Warn("Using in-memory store: state is lost on exit")
		return memory.New(), nil
	case config.EngineBadger, "":
		return badger.Open(ctx, badger.Config{
			Path:            cfg.Path,
			SyncWrites:      cfg.SyncWrites,
			ValueLogGCRatio: cfg.ValueLogGCRatio,
		})
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}

func newPrinter(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, !noColor), nil
}

// printResult renders table in table format and raw otherwise.
func printResult(p *output.Printer, raw any, table output.TableRenderer) error {
	if p.Format() == output.FormatTable {
		return p.Print(table)
	}
	return p.Print(raw)
}

func closeStore(kv store.Store) {
	if err := kv.Close(); err != nil {
		logger.Warn("Failed to close store", logger.Err(err))
	}
}
