package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/internal/telemetry"
	"github.com/marmos91/stategc/pkg/bloom"
	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// ============================================================================
// Types
// ============================================================================

// Confirmer approves the first destructive run against a database.
type Confirmer interface {
	Confirm(ctx context.Context, summary string) (bool, error)
}

// ConfirmFunc adapts a plain function to Confirmer.
type ConfirmFunc func(ctx context.Context, summary string) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, summary string) (bool, error) {
	return f(ctx, summary)
}

// Report summarizes one collection run.
type Report struct {
	RunID       string      `json:"run_id"`
	DryRun      bool        `json:"dry_run"`
	Skipped     bool        `json:"skipped,omitempty"` // nothing to protect, nothing done
	ResumedFrom state.Phase `json:"resumed_from,omitempty"`

	Roots     int     `json:"roots"`
	Scanned   int     `json:"scanned"`
	Missing   int     `json:"missing"`
	BloomBits uint64  `json:"bloom_bits"`
	BloomK    uint8   `json:"bloom_k"`
	FillRatio float64 `json:"fill_ratio"`

	Sweep     SweepStats    `json:"sweep"`
	Compacted bool          `json:"compacted"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Status describes the persisted collector state.
type Status struct {
	Phase           state.Phase            `json:"phase"`
	RunID           string                 `json:"run_id,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	Stats           state.RunStats         `json:"stats"`
	LastCompletedAt *time.Time             `json:"last_completed_at,omitempty"`
	CompletedRuns   uint64                 `json:"completed_runs"`
	BootCleanupDone bool                   `json:"boot_cleanup_done"`
	Roots           int                    `json:"roots"`
	Nodes           int                    `json:"nodes"`
	StaleEntries    int                    `json:"stale_entries"`
	RecycleBin      *state.RecycleBinStats `json:"recycle_bin,omitempty"`
}

// GarbageCollector sequences BuildReach and SweepExpired with a persisted
// phase and runs IncrementalSweep on demand.
//
// Run and RunIncremental are serialized; concurrent callers wait.
type GarbageCollector struct {
	kv  store.Store
	cfg GCConfig

	nodes   *state.NodeStore
	roots   *state.RootIndex
	stale   *state.StaleIndexStore
	meta    *state.MetaStore
	recycle *state.RecycleBinStore
	seen    *state.ReachSeenSet

	resolver  trie.ChildResolver
	confirmer Confirmer
	metrics   *Metrics
	now       func() time.Time
	progress  func(BuildProgress)
	chunkSize int

	mu sync.Mutex
}

// Option configures a GarbageCollector.
type Option func(*GarbageCollector)

// WithMetrics records collector metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(gc *GarbageCollector) { gc.metrics = m }
}

// WithConfirmer sets the confirmation used before the first destructive run.
func WithConfirmer(c Confirmer) Option {
	return func(gc *GarbageCollector) { gc.confirmer = c }
}

// WithChildResolver sets how internal nodes list their children.
func WithChildResolver(r trie.ChildResolver) Option {
	return func(gc *GarbageCollector) { gc.resolver = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(gc *GarbageCollector) {
		if now != nil {
			gc.now = now
		}
	}
}

// WithBuildProgress receives BuildReach progress.
func WithBuildProgress(fn func(BuildProgress)) Option {
	return func(gc *GarbageCollector) { gc.progress = fn }
}

// WithBloomChunkSize overrides the Bloom snapshot chunk size.
func WithBloomChunkSize(n int) Option {
	return func(gc *GarbageCollector) { gc.chunkSize = n }
}

// NewGarbageCollector validates cfg and returns a collector over kv.
func NewGarbageCollector(ctx context.Context, kv store.Store, cfg GCConfig, opts ...Option) (*GarbageCollector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gc := &GarbageCollector{
		kv:       kv,
		cfg:      cfg,
		nodes:    state.NewNodeStore(kv),
		roots:    state.NewRootIndex(kv),
		stale:    state.NewStaleIndexStore(kv),
		resolver: trie.DefaultResolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(gc)
	}
	gc.meta = state.NewMetaStore(kv).WithChunkSize(gc.chunkSize)

	if cfg.UseRecycleBin {
		rb, err := state.NewRecycleBinStore(ctx, kv, cfg.RecycleBin.MaxEntries, cfg.RecycleBin.MaxBytes.Uint64())
		if err != nil {
			return nil, err
		}
		gc.recycle = rb
		recycleUsage(gc.metrics, rb)
	}
	if cfg.ReachSeen {
		gc.seen = state.NewReachSeenSet(kv)
	}
	return gc, nil
}

// Config returns the validated configuration.
func (gc *GarbageCollector) Config() GCConfig {
	return gc.cfg
}

// RecycleBin returns the recycle bin, or nil when recycling is disabled.
func (gc *GarbageCollector) RecycleBin() *state.RecycleBinStore {
	return gc.recycle
}

// ============================================================================
// Full cycle
// ============================================================================

// Run performs one BuildReach/SweepExpired cycle, resuming a persisted
// phase when one is found.
//
// BuildReach always restarts the traversal with a fresh filter: a partial
// filter combined with skip-marked traversal would hide the unvisited
// children of marked nodes. SweepExpired resumes after the persisted
// cursor with the persisted Bloom snapshot.
//
// SweepExpired lists candidates in pages of ScanBatch and deletes them in
// transactions of BatchSize. The cursor advances past every committed
// transaction, so an interrupted run re-checks at most the uncommitted rest
// of its page. On error the returned report holds the partial totals.
//
// In dry-run mode the persisted phase is ignored and nothing is written.
func (gc *GarbageCollector) Run(ctx context.Context) (*Report, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.cfg.DryRun {
		return gc.dryRun(ctx)
	}

	start := time.Now()
	st, err := gc.meta.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gc meta: %w", err)
	}

	report := &Report{StartedAt: gc.now()}
	if st.Phase == state.PhaseIdle {
		if err := gc.confirm(ctx, st); err != nil {
			if errors.Is(err, ErrAborted) {
				gc.metrics.ObserveRun(ResultAborted)
			}
			return nil, err
		}
		roots, err := gc.protectedRoots(ctx)
		if err != nil {
			return nil, err
		}
		if len(roots) == 0 {
			logger.WarnCtx(ctx, "GC: no protected roots, skipping run")
			report.Skipped = true
			return report, nil
		}
		if err := gc.begin(ctx, st, roots); err != nil {
			return nil, err
		}
	} else {
		report.ResumedFrom = st.Phase
	}
	report.RunID = st.RunID

	ctx = logger.WithContext(ctx, logger.NewLogContext(st.RunID))
	ctx, span := telemetry.StartGCSpan(ctx, telemetry.SpanRun, st.RunID,
		telemetry.Roots(len(st.Roots)),
		telemetry.Resumed(report.ResumedFrom != ""))
	defer span.End()

	if report.ResumedFrom != "" {
		logger.InfoCtx(ctx, "GC: resuming run", logger.Phase(string(report.ResumedFrom)), logger.Roots(len(st.Roots)))
	} else {
		logger.InfoCtx(ctx, "GC: starting run", logger.Roots(len(st.Roots)))
	}

	err = gc.runPhases(ctx, st, report)
	report.Duration = time.Since(start)
	if err != nil {
		fillReport(report, st.Stats)
		telemetry.RecordError(ctx, err)
		gc.metrics.ObserveRun(ResultError)
		logger.ErrorCtx(ctx, "GC: run failed", logger.Phase(string(st.Phase)), logger.Err(err))
		return report, err
	}
	gc.metrics.ObserveRun(ResultSuccess)
	return report, nil
}

func (gc *GarbageCollector) runPhases(ctx context.Context, st *state.GCState, report *Report) error {
	var filter *bloom.Filter

	if st.Phase == state.PhaseSweepExpired {
		f, err := gc.meta.LoadBloom(ctx, st)
		switch {
		case errors.Is(err, state.ErrBloomSnapshotMissing):
			logger.WarnCtx(ctx, "GC: bloom snapshot unusable, rebuilding reachable set", logger.Err(err))
			st.Phase = state.PhaseBuildReach
			st.Cursor = nil
			if err := gc.meta.Save(ctx, st); err != nil {
				return fmt.Errorf("save gc meta: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load bloom snapshot: %w", err)
		default:
			filter = f
		}
	}

	if st.Phase == state.PhaseBuildReach {
		f, err := gc.buildReach(ctx, st)
		if err != nil {
			return err
		}
		filter = f
	}

	report.BloomBits = filter.Bits()
	report.BloomK = filter.K()
	report.FillRatio = filter.FillRatio()

	if err := gc.sweepExpired(ctx, st, filter); err != nil {
		return err
	}
	return gc.finish(ctx, st, report)
}

// begin starts a new run protecting roots and persists it.
func (gc *GarbageCollector) begin(ctx context.Context, st *state.GCState, roots []state.Root) error {
	st.RunID = uuid.NewString()
	st.Phase = state.PhaseBuildReach
	st.Roots = state.Hashes(roots)
	st.StartedAt = gc.now().UTC()
	st.Cursor = nil
	st.Stats = state.RunStats{Roots: len(roots)}
	if err := gc.meta.Save(ctx, st); err != nil {
		return fmt.Errorf("save gc meta: %w", err)
	}
	return nil
}

func (gc *GarbageCollector) buildReach(ctx context.Context, st *state.GCState) (*bloom.Filter, error) {
	ctx, span := telemetry.StartGCSpan(ctx, telemetry.SpanBuildReach, st.RunID, telemetry.Roots(len(st.Roots)))
	defer span.End()
	ctx = withPhase(ctx, string(state.PhaseBuildReach))
	defer gc.metrics.StartPhase(string(state.PhaseBuildReach))()

	filter, err := gc.newFilter(ctx)
	if err != nil {
		return nil, err
	}
	if gc.seen != nil {
		if err := gc.seen.Reset(ctx); err != nil {
			return nil, fmt.Errorf("reset reach-seen set: %w", err)
		}
	}

	logger.InfoCtx(ctx, "GC: building reachable set",
		logger.Roots(len(st.Roots)), logger.BloomBits(filter.Bits()), logger.BloomK(filter.K()))

	builder := NewReachableBuilder(gc.nodes, filter,
		WithWorkers(gc.cfg.Workers),
		WithResolver(gc.resolver),
		WithReachSeen(gc.seen),
		WithProgress(gc.progress),
		WithBuilderMetrics(gc.metrics))

	scanned, err := builder.Build(ctx, st.Roots, gc.cfg.ScanBatch)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("build reachable set: %w", err)
	}

	st.Stats.Scanned = scanned
	st.Stats.Missing = builder.Missing()
	st.Phase = state.PhaseSweepExpired
	st.Cursor = nil
	if err := gc.meta.SaveBloom(ctx, st, filter); err != nil {
		return nil, fmt.Errorf("save bloom snapshot: %w", err)
	}

	fill := filter.FillRatio()
	gc.metrics.SetBloom(filter.Bits(), fill)
	telemetry.SetAttributes(ctx,
		telemetry.Scanned(scanned),
		telemetry.Missing(builder.Missing()),
		telemetry.BloomBits(filter.Bits()),
		telemetry.BloomK(int(filter.K())),
		telemetry.FillRatio(fill))
	logger.InfoCtx(ctx, "GC: reachable set built",
		logger.Scanned(scanned), logger.Missing(builder.Missing()), logger.FillRatio(fill))
	return filter, nil
}

// newFilter sizes the marker filter from the configuration.
func (gc *GarbageCollector) newFilter(ctx context.Context) (*bloom.Filter, error) {
	var nodes uint64
	if gc.cfg.NeedsNodeCount() {
		n, err := gc.nodes.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count nodes: %w", err)
		}
		nodes = uint64(n)
	}
	bits, k := gc.cfg.MarkerSize(nodes)
	return bloom.New(bits, k), nil
}

func (gc *GarbageCollector) sweepExpired(ctx context.Context, st *state.GCState, filter *bloom.Filter) error {
	ctx, span := telemetry.StartGCSpan(ctx, telemetry.SpanSweepExpired, st.RunID)
	defer span.End()
	ctx = withPhase(ctx, string(state.PhaseSweepExpired))
	defer gc.metrics.StartPhase(string(state.PhaseSweepExpired))()

	sweeper := NewSweepExpired(gc.kv, filter,
		WithRecycleBin(gc.recycle),
		WithSweepMetrics(gc.metrics),
		WithSweepClock(gc.now),
		WithBatchSize(gc.cfg.BatchSize),
		WithMarkedAt(st.StartedAt),
		WithRecycleTag(gc.newestRoot(ctx, st.Roots)))

	if st.Cursor != nil {
		logger.InfoCtx(ctx, "GC: sweeping expired nodes", logger.Cursor(st.Cursor))
	} else {
		logger.InfoCtx(ctx, "GC: sweeping expired nodes")
	}

	for {
		page, err := gc.nodes.Hashes(ctx, st.Cursor, gc.cfg.ScanBatch)
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		if len(page) == 0 {
			break
		}

		stats, err := sweeper.SweepWithStats(ctx, page, gc.cfg.WindowDays)
		addSweepStats(&st.Stats, stats)
		if err != nil {
			telemetry.RecordError(ctx, err)
			// stats covers the committed batches, a prefix of page
			if stats.Scanned > 0 {
				last := page[stats.Scanned-1]
				st.Cursor = &last
				if serr := gc.meta.Save(context.WithoutCancel(ctx), st); serr != nil {
					logger.WarnCtx(ctx, "GC: failed to save partial sweep progress", logger.Err(serr))
				}
			}
			return err
		}

		last := page[len(page)-1]
		st.Cursor = &last
		if err := gc.meta.Save(context.WithoutCancel(ctx), st); err != nil {
			return fmt.Errorf("save gc meta: %w", err)
		}
		if len(page) < gc.cfg.ScanBatch {
			break
		}
	}

	telemetry.SetAttributes(ctx,
		telemetry.Candidates(st.Stats.Candidates),
		telemetry.Deleted(st.Stats.Deleted),
		telemetry.Recycled(st.Stats.Recycled))
	return nil
}

func addSweepStats(rs *state.RunStats, stats SweepStats) {
	rs.Candidates += stats.Scanned
	rs.Deleted += stats.Deleted
	rs.Recycled += stats.Recycled
	rs.BloomSkipped += stats.BloomSkipped
	rs.WindowSkipped += stats.WindowSkipped
	rs.RefSkipped += stats.RefSkipped
}

// fillReport copies the run totals accumulated so far, including those of
// earlier attempts of a resumed run.
func fillReport(report *Report, rs state.RunStats) {
	report.Roots = rs.Roots
	report.Scanned = rs.Scanned
	report.Missing = rs.Missing
	report.Sweep = SweepStats{
		Scanned:       rs.Candidates,
		Deleted:       rs.Deleted,
		Recycled:      rs.Recycled,
		BloomSkipped:  rs.BloomSkipped,
		WindowSkipped: rs.WindowSkipped,
		RefSkipped:    rs.RefSkipped,
	}
}

// newestRoot returns the newest protected root, used to tag recycled
// records. Lookup failures only lose the order.
func (gc *GarbageCollector) newestRoot(ctx context.Context, roots []trie.Hash) state.Root {
	if len(roots) == 0 {
		return state.Root{}
	}
	r, err := gc.roots.Get(ctx, roots[0])
	if err != nil {
		return state.Root{Hash: roots[0]}
	}
	return *r
}

// finish records the completed run, drops the Bloom snapshot and compacts
// when configured.
func (gc *GarbageCollector) finish(ctx context.Context, st *state.GCState, report *Report) error {
	fillReport(report, st.Stats)

	chunks := st.BloomChunks
	now := gc.now().UTC()
	st.Phase = state.PhaseIdle
	st.Roots = nil
	st.Cursor = nil
	st.BloomBits, st.BloomK, st.BloomChunks = 0, 0, 0
	st.LastCompletedAt = &now
	st.CompletedRuns++
	if err := gc.meta.Save(ctx, st); err != nil {
		return fmt.Errorf("save gc meta: %w", err)
	}
	if err := gc.meta.DeleteBloomChunks(ctx, chunks); err != nil {
		logger.WarnCtx(ctx, "GC: failed to delete bloom snapshot", logger.Err(err))
	}
	if gc.seen != nil {
		if err := gc.seen.Reset(ctx); err != nil {
			logger.WarnCtx(ctx, "GC: failed to reset reach-seen set", logger.Err(err))
		}
	}

	logger.InfoCtx(ctx, "GC: run complete",
		logger.Roots(report.Roots),
		logger.Scanned(report.Scanned),
		logger.Deleted(report.Sweep.Deleted),
		logger.Recycled(report.Sweep.Recycled),
		"bloom_skipped", report.Sweep.BloomSkipped,
		"window_skipped", report.Sweep.WindowSkipped,
		"ref_skipped", report.Sweep.RefSkipped)

	if gc.cfg.ForceCompaction {
		if err := gc.compact(ctx); err != nil {
			return err
		}
		report.Compacted = true
	}
	return nil
}

func (gc *GarbageCollector) compact(ctx context.Context) error {
	ctx, span := telemetry.StartGCSpan(ctx, telemetry.SpanCompact, "")
	defer span.End()

	start := time.Now()
	if err := gc.kv.Compact(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("compact: %w", err)
	}
	gc.metrics.IncCompactions()
	logger.InfoCtx(ctx, "GC: compaction complete", logger.DurationMs(logger.Duration(start)))
	return nil
}

// dryRun traverses and counts like Run without writing anything. The
// reach-seen set is not used since it is persisted.
func (gc *GarbageCollector) dryRun(ctx context.Context) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	report := &Report{RunID: runID, DryRun: true, StartedAt: gc.now()}

	lc := logger.NewLogContext(runID)
	lc.DryRun = true
	ctx = logger.WithContext(ctx, lc)
	ctx, span := telemetry.StartGCSpan(ctx, telemetry.SpanRun, runID, telemetry.DryRun(true))
	defer span.End()

	roots, err := gc.protectedRoots(ctx)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		logger.WarnCtx(ctx, "GC: no protected roots, skipping run")
		report.Skipped = true
		return report, nil
	}
	report.Roots = len(roots)
	logger.InfoCtx(ctx, "GC: starting dry run", logger.Roots(len(roots)))

	filter, err := gc.newFilter(ctx)
	if err != nil {
		return nil, err
	}
	builder := NewReachableBuilder(gc.nodes, filter,
		WithWorkers(gc.cfg.Workers),
		WithResolver(gc.resolver),
		WithProgress(gc.progress))
	report.Scanned, err = builder.Build(ctx, state.Hashes(roots), gc.cfg.ScanBatch)
	if err != nil {
		return report, fmt.Errorf("build reachable set: %w", err)
	}
	report.Missing = builder.Missing()
	report.BloomBits = filter.Bits()
	report.BloomK = filter.K()
	report.FillRatio = filter.FillRatio()

	sweeper := NewSweepExpired(gc.kv, filter,
		WithDryRun(true),
		WithSweepClock(gc.now),
		WithBatchSize(gc.cfg.BatchSize),
		WithMarkedAt(report.StartedAt))

	var cursor *trie.Hash
	for {
		page, err := gc.nodes.Hashes(ctx, cursor, gc.cfg.ScanBatch)
		if err != nil {
			return report, fmt.Errorf("list nodes: %w", err)
		}
		if len(page) == 0 {
			break
		}
		stats, err := sweeper.SweepWithStats(ctx, page, gc.cfg.WindowDays)
		report.Sweep.Add(stats)
		if err != nil {
			return report, err
		}
		cursor = &page[len(page)-1]
		if len(page) < gc.cfg.ScanBatch {
			break
		}
	}

	report.Duration = time.Since(start)
	gc.metrics.ObserveRun(ResultDryRun)
	logger.InfoCtx(ctx, "GC: dry run complete",
		logger.Roots(report.Roots),
		logger.Scanned(report.Scanned),
		logger.Deleted(report.Sweep.Deleted),
		"bloom_skipped", report.Sweep.BloomSkipped,
		"window_skipped", report.Sweep.WindowSkipped,
		"ref_skipped", report.Sweep.RefSkipped)
	return report, nil
}

// ============================================================================
// Incremental sweep
// ============================================================================

// RunIncremental drains every stale entry (cutoff = max hash) and returns
// the number of nodes deleted, or that would be in dry-run mode.
func (gc *GarbageCollector) RunIncremental(ctx context.Context) (int, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	ctx, span := telemetry.StartGCSpan(ctx, telemetry.SpanIncremental, "", telemetry.DryRun(gc.cfg.DryRun))
	defer span.End()
	ctx = withPhase(ctx, SweepNameIncremental)
	defer gc.metrics.StartPhase(SweepNameIncremental)()

	sweep := NewIncrementalSweep(gc.kv,
		WithDryRun(gc.cfg.DryRun),
		WithRecycleBin(gc.recycle),
		WithSweepMetrics(gc.metrics),
		WithSweepClock(gc.now),
		WithProtector(NewRootProtector(gc.roots, gc.cfg.ProtectedRootsCount, gc.cfg.WindowDays, gc.now)))

	stats, err := sweep.SweepWithStats(ctx, trie.MaxHash, gc.cfg.BatchSize)
	telemetry.SetAttributes(ctx,
		telemetry.Scanned(stats.Scanned),
		telemetry.Deleted(stats.Deleted),
		telemetry.Recycled(stats.Recycled),
		telemetry.Skipped(stats.Protected))
	if err != nil {
		telemetry.RecordError(ctx, err)
		return stats.Deleted, err
	}
	return stats.Deleted, nil
}

// ============================================================================
// Status and bookkeeping
// ============================================================================

// Status returns the persisted phase, counters and store sizes.
func (gc *GarbageCollector) Status(ctx context.Context) (*Status, error) {
	st, err := gc.meta.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gc meta: %w", err)
	}

	out := &Status{
		Phase:           st.Phase,
		RunID:           st.RunID,
		Stats:           st.Stats,
		LastCompletedAt: st.LastCompletedAt,
		CompletedRuns:   st.CompletedRuns,
		BootCleanupDone: st.BootCleanupDone,
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		out.StartedAt = &started
	}

	if out.Roots, err = gc.roots.Count(ctx); err != nil {
		return nil, fmt.Errorf("count roots: %w", err)
	}
	if out.Nodes, err = gc.nodes.Count(ctx); err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	if out.StaleEntries, err = gc.stale.CountStaleIndices(ctx); err != nil {
		return nil, fmt.Errorf("count stale entries: %w", err)
	}
	if gc.recycle != nil {
		stats := gc.recycle.GetStats()
		out.RecycleBin = &stats
	}
	return out, nil
}

// BootCleanupDone reports whether the startup cycle has been recorded.
func (gc *GarbageCollector) BootCleanupDone(ctx context.Context) (bool, error) {
	st, err := gc.meta.Load(ctx)
	if err != nil {
		return false, err
	}
	return st.BootCleanupDone, nil
}

// MarkBootCleanupDone records that the startup cycle ran.
func (gc *GarbageCollector) MarkBootCleanupDone(ctx context.Context) error {
	if gc.cfg.DryRun {
		return nil
	}

	gc.mu.Lock()
	defer gc.mu.Unlock()

	st, err := gc.meta.Load(ctx)
	if err != nil {
		return err
	}
	st.BootCleanupDone = true
	return gc.meta.Save(ctx, st)
}

func (gc *GarbageCollector) protectedRoots(ctx context.Context) ([]state.Root, error) {
	roots, err := gc.roots.ProtectedRoots(ctx, gc.cfg.ProtectedRootsCount, gc.cfg.WindowDays, gc.now())
	if err != nil {
		return nil, fmt.Errorf("load protected roots: %w", err)
	}
	return roots, nil
}

// confirm asks the Confirmer before the first destructive run.
func (gc *GarbageCollector) confirm(ctx context.Context, st *state.GCState) error {
	if gc.cfg.SkipConfirm || st.CompletedRuns > 0 {
		return nil
	}
	if gc.confirmer == nil {
		return ErrConfirmationRequired
	}

	summary := fmt.Sprintf(
		"Permanently delete nodes unreachable from the %d newest roots and older than %d days?",
		gc.cfg.ProtectedRootsCount, gc.cfg.WindowDays)
	ok, err := gc.confirmer.Confirm(ctx, summary)
	if err != nil {
		return fmt.Errorf("confirm run: %w", err)
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

// withPhase tags the log context in ctx with phase and the active span.
func withPhase(ctx context.Context, phase string) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext("")
	}
	lc = lc.WithPhase(phase).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	return logger.WithContext(ctx, lc)
}
