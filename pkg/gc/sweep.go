package gc

import (
	"context"
	"time"

	"github.com/marmos91/stategc/pkg/state"
)

// SweepStats counts the outcome of a sweep.
type SweepStats struct {
	Scanned  int `json:"scanned"` // stale entries or candidates examined
	Deleted  int `json:"deleted"` // would-be deletes in dry-run mode
	Recycled int `json:"recycled"`
	Missing  int `json:"missing"` // node bytes already gone

	// IncrementalSweep
	Dropped   int `json:"dropped"`   // entries dropped because the node was re-referenced
	Protected int `json:"protected"` // entries left for a protected root

	// SweepExpired
	BloomSkipped  int `json:"bloom_skipped"`
	WindowSkipped int `json:"window_skipped"`
	RefSkipped    int `json:"ref_skipped"`
}

// Add accumulates o into s.
func (s *SweepStats) Add(o SweepStats) {
	s.Scanned += o.Scanned
	s.Deleted += o.Deleted
	s.Recycled += o.Recycled
	s.Missing += o.Missing
	s.Dropped += o.Dropped
	s.Protected += o.Protected
	s.BloomSkipped += o.BloomSkipped
	s.WindowSkipped += o.WindowSkipped
	s.RefSkipped += o.RefSkipped
}

// ============================================================================
// Options
// ============================================================================

type sweepOptions struct {
	dryRun    bool
	recycle   *state.RecycleBinStore
	metrics   *Metrics
	now       func() time.Time
	protector Protector
	batchSize int
	markedAt  time.Time
	tag       state.Root
}

// SweepOption configures IncrementalSweep and SweepExpired.
type SweepOption func(*sweepOptions)

// WithDryRun counts would-be deletes without writing anything.
func WithDryRun(dryRun bool) SweepOption {
	return func(o *sweepOptions) { o.dryRun = dryRun }
}

// WithRecycleBin stages deleted node bytes in r. A nil r disables staging.
func WithRecycleBin(r *state.RecycleBinStore) SweepOption {
	return func(o *sweepOptions) { o.recycle = r }
}

// WithSweepMetrics records sweep counters in m.
func WithSweepMetrics(m *Metrics) SweepOption {
	return func(o *sweepOptions) { o.metrics = m }
}

// WithSweepClock overrides time.Now.
func WithSweepClock(now func() time.Time) SweepOption {
	return func(o *sweepOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithProtector leaves stale entries of roots newer than the oldest
// protected root in place. IncrementalSweep only.
func WithProtector(p Protector) SweepOption {
	return func(o *sweepOptions) { o.protector = p }
}

// WithBatchSize sets the number of candidates per transaction.
// SweepExpired only; IncrementalSweep takes it per call.
func WithBatchSize(n int) SweepOption {
	return func(o *sweepOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithMarkedAt keeps every node born at or after t, the start of the
// marking pass the filter came from. SweepExpired only.
func WithMarkedAt(t time.Time) SweepOption {
	return func(o *sweepOptions) { o.markedAt = t }
}

// WithRecycleTag sets the root recorded on recycled SweepExpired records.
func WithRecycleTag(root state.Root) SweepOption {
	return func(o *sweepOptions) { o.tag = root }
}

func newSweepOptions(opts []SweepOption) sweepOptions {
	o := sweepOptions{
		now:       time.Now,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ============================================================================
// Protection
// ============================================================================

// Protector reports the order of the oldest protected root. ok is false
// when no root is protected.
type Protector interface {
	OldestProtected(ctx context.Context) (order uint64, ok bool, err error)
}

// RootProtector derives protection from the root index.
type RootProtector struct {
	roots      *state.RootIndex
	count      int
	windowDays int
	now        func() time.Time
}

// NewRootProtector protects the count newest roots and every root
// committed within windowDays.
func NewRootProtector(roots *state.RootIndex, count, windowDays int, now func() time.Time) *RootProtector {
	if now == nil {
		now = time.Now
	}
	return &RootProtector{roots: roots, count: count, windowDays: windowDays, now: now}
}

// OldestProtected implements Protector.
func (p *RootProtector) OldestProtected(ctx context.Context) (uint64, bool, error) {
	roots, err := p.roots.ProtectedRoots(ctx, p.count, p.windowDays, p.now())
	if err != nil {
		return 0, false, err
	}
	order, ok := state.MinOrder(roots)
	return order, ok, nil
}

// recycleUsage publishes the recycle bin usage to m.
func recycleUsage(m *Metrics, r *state.RecycleBinStore) {
	if r == nil {
		return
	}
	st := r.GetStats()
	m.SetRecycleUsage(st.CurrentEntries, st.CurrentBytes)
}
