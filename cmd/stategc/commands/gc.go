package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/internal/bytesize"
	"github.com/marmos91/stategc/internal/cli/output"
	"github.com/marmos91/stategc/internal/cli/prompt"
	"github.com/marmos91/stategc/internal/cli/timeutil"
	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/config"
	"github.com/marmos91/stategc/pkg/gc"
)

var (
	gcDryRun   bool
	gcYes      bool
	gcProgress bool
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run or inspect the garbage collector",
	Long: `Run or inspect the garbage collector against the configured store.

Subcommands:
  run          Run one BuildReach/SweepExpired cycle (resumes an interrupted one)
  incremental  Drain the stale index
  status       Show the persisted collector state`,
}

var gcRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one collection cycle",
	Long: `Run one BuildReach/SweepExpired cycle.

If a previous run was interrupted, the persisted phase is resumed. The
first destructive run against a database asks for confirmation unless
--yes is given or gc.skip_confirm is set.

Examples:
  # Preview what would be deleted
  stategc gc run --dry-run

  # Run without prompting
  stategc gc run --yes

  # Machine-readable report
  stategc gc run --yes -o json`,
	RunE: runGCRun,
}

var gcIncrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Drain the stale index",
	Long: `Delete every node recorded in the stale index whose refcount is still
zero, leaving entries that belong to protected roots in place.`,
	RunE: runGCIncremental,
}

var gcStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted collector state",
	RunE:  runGCStatus,
}

func init() {
	gcCmd.PersistentFlags().BoolVar(&gcDryRun, "dry-run", false, "Count without deleting (overrides gc.dry_run)")
	gcRunCmd.Flags().BoolVarP(&gcYes, "yes", "y", false, "Skip the first-run confirmation")
	gcRunCmd.Flags().BoolVar(&gcProgress, "progress", false, "Log BuildReach progress per root")

	gcCmd.AddCommand(gcRunCmd)
	gcCmd.AddCommand(gcIncrementalCmd)
	gcCmd.AddCommand(gcStatusCmd)
}

// gcConfig applies command-line overrides to the collector configuration
// the daemon would run with, prune overrides included.
func gcConfig(cmd *cobra.Command, cfg *config.Config) gc.GCConfig {
	c := cfg.EffectiveGC()
	if cmd.Flags().Changed("dry-run") {
		c.DryRun = gcDryRun
	}
	if gcYes {
		c.SkipConfirm = true
	}
	return c
}

func runGCRun(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	kv, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore(kv)

	opts := []gc.Option{gc.WithConfirmer(prompt.Confirmer{})}
	if gcProgress {
		opts = append(opts, gc.WithBuildProgress(func(bp gc.BuildProgress) {
			logger.InfoCtx(ctx, "GC: root marked",
				logger.Root(bp.Root), logger.Roots(bp.Roots), logger.Scanned(bp.Scanned), logger.Missing(bp.Missing))
		}))
	}

	collector, err := gc.NewGarbageCollector(ctx, kv, gcConfig(cmd, cfg), opts...)
	if err != nil {
		return err
	}

	report, err := collector.Run(ctx)
	switch {
	case errors.Is(err, gc.ErrAborted), prompt.IsAborted(err):
		p.Warning("Aborted: nothing was deleted")
		return nil
	case errors.Is(err, gc.ErrConfirmationRequired):
		return fmt.Errorf("%w: re-run with --yes or set gc.skip_confirm", err)
	case err != nil:
		return err
	}

	return printResult(p, report, reportView(report))
}

func runGCIncremental(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	kv, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore(kv)

	gcCfg := gcConfig(cmd, cfg)
	collector, err := gc.NewGarbageCollector(ctx, kv, gcCfg)
	if err != nil {
		return err
	}

	deleted, err := collector.RunIncremental(ctx)
	if err != nil {
		return err
	}

	result := struct {
		DryRun  bool `json:"dry_run" yaml:"dry_run"`
		Deleted int  `json:"deleted" yaml:"deleted"`
	}{gcCfg.DryRun, deleted}
	table := output.KeyValues{}.
		Add("Dry run", strconv.FormatBool(result.DryRun)).
		Add("Deleted", strconv.Itoa(result.Deleted))
	return printResult(p, result, table)
}

func runGCStatus(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	kv, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore(kv)

	collector, err := gc.NewGarbageCollector(ctx, kv, cfg.EffectiveGC())
	if err != nil {
		return err
	}
	st, err := collector.Status(ctx)
	if err != nil {
		return err
	}
	return printResult(p, st, statusView(st))
}

// ============================================================================
// Views
// ============================================================================

func reportView(r *gc.Report) output.KeyValues {
	kv := output.KeyValues{}.
		Add("Run", r.RunID).
		Add("Dry run", strconv.FormatBool(r.DryRun))
	if r.Skipped {
		return kv.Add("Result", "skipped: no protected roots")
	}
	if r.ResumedFrom != "" {
		kv = kv.Add("Resumed from", string(r.ResumedFrom))
	}
	return kv.
		Add("Roots", strconv.Itoa(r.Roots)).
		Add("Scanned", strconv.Itoa(r.Scanned)).
		Add("Missing", strconv.Itoa(r.Missing)).
		Add("Bloom", fmt.Sprintf("%s, k=%d, fill %.2f%%", bytesize.ByteSize(r.BloomBits/8), r.BloomK, r.FillRatio*100)).
		Add("Candidates", strconv.Itoa(r.Sweep.Scanned)).
		Add("Deleted", strconv.Itoa(r.Sweep.Deleted)).
		Add("Recycled", strconv.Itoa(r.Sweep.Recycled)).
		Add("Kept (reachable)", strconv.Itoa(r.Sweep.BloomSkipped)).
		Add("Kept (window)", strconv.Itoa(r.Sweep.WindowSkipped)).
		Add("Kept (tracked)", strconv.Itoa(r.Sweep.RefSkipped)).
		Add("Compacted", strconv.FormatBool(r.Compacted)).
		Add("Duration", timeutil.FormatDuration(r.Duration))
}

func statusView(st *gc.Status) output.KeyValues {
	kv := output.KeyValues{}.
		Add("Phase", string(st.Phase))
	if st.RunID != "" {
		kv = kv.Add("Run", st.RunID).
			Add("Started", timeutil.FormatTimePtr(st.StartedAt)).
			Add("Scanned", strconv.Itoa(st.Stats.Scanned)).
			Add("Deleted", strconv.Itoa(st.Stats.Deleted))
	}
	kv = kv.
		Add("Completed runs", strconv.FormatUint(st.CompletedRuns, 10)).
		Add("Last completed", timeutil.FormatTimePtr(st.LastCompletedAt)).
		Add("Boot cleanup done", strconv.FormatBool(st.BootCleanupDone)).
		Add("Roots", strconv.Itoa(st.Roots)).
		Add("Nodes", strconv.Itoa(st.Nodes)).
		Add("Stale entries", strconv.Itoa(st.StaleEntries))
	if rb := st.RecycleBin; rb != nil {
		kv = kv.Add("Recycle bin", fmt.Sprintf("%d/%d entries, %s/%s",
			rb.CurrentEntries, rb.MaxEntries,
			bytesize.ByteSize(rb.CurrentBytes), bytesize.ByteSize(rb.MaxBytes)))
	}
	return kv
}
