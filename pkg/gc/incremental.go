package gc

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// IncrementalSweep drains the stale index and deletes nodes whose refcount
// is still zero.
type IncrementalSweep struct {
	kv store.Store
	sweepOptions
}

// NewIncrementalSweep returns a sweep over kv.
func NewIncrementalSweep(kv store.Store, opts ...SweepOption) *IncrementalSweep {
	return &IncrementalSweep{kv: kv, sweepOptions: newSweepOptions(opts)}
}

// Sweep drains stale entries with root <= cutoff and returns the number of
// nodes deleted. See SweepWithStats.
func (s *IncrementalSweep) Sweep(ctx context.Context, cutoff trie.Hash, batchSize int) (int, error) {
	st, err := s.SweepWithStats(ctx, cutoff, batchSize)
	return st.Deleted, err
}

// SweepWithStats drains stale entries with root <= cutoff in ascending key
// order, batchSize entries per transaction. For every entry the refcount
// is re-read inside the transaction:
//
//   - zero: the node is staged in the recycle bin (if configured), its
//     bytes and birth record are deleted and the entry is removed
//   - non-zero: the node was re-referenced and only the entry is removed
//
// Entries whose root is registered with an order newer than the oldest
// protected root stay in place, since an older protected root may still
// reference the node.
//
// On cancellation the stats so far are returned with ctx.Err().
func (s *IncrementalSweep) SweepWithStats(ctx context.Context, cutoff trie.Hash, batchSize int) (SweepStats, error) {
	var total SweepStats
	if batchSize <= 0 {
		return total, fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}

	var g guard
	if s.protector != nil {
		order, ok, err := s.protector.OldestProtected(ctx)
		if err != nil {
			return total, fmt.Errorf("load protected roots: %w", err)
		}
		g = guard{order: order, active: ok}
	}

	var after *state.StaleIndex
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, last, n, err := s.sweepBatch(ctx, cutoff, after, batchSize, g)
		if err != nil {
			return total, fmt.Errorf("incremental sweep: %w", err)
		}
		total.Add(batch)
		s.metrics.ObserveSweep(SweepNameIncremental, batch)

		if n > 0 {
			logger.DebugCtx(ctx, "GC: incremental batch committed",
				logger.Batch(n), logger.Deleted(batch.Deleted), logger.Skipped(batch.Protected))
		}
		if n < batchSize {
			break
		}
		after = last
	}
	recycleUsage(s.metrics, s.recycle)

	logger.InfoCtx(ctx, "GC: incremental sweep complete",
		logger.Cutoff(cutoff),
		logger.Scanned(total.Scanned),
		logger.Deleted(total.Deleted),
		logger.Recycled(total.Recycled),
		logger.Skipped(total.Protected),
		"dropped", total.Dropped,
		logger.DryRun(s.dryRun))
	return total, nil
}

// guard holds the protection threshold for one sweep.
type guard struct {
	order  uint64
	active bool
}

func (g guard) protects(root *state.Root) bool {
	return g.active && root != nil && root.Order > g.order
}

// sweepBatch processes up to limit entries after the cursor in a single
// transaction. n is the number of entries read; last is the final one.
func (s *IncrementalSweep) sweepBatch(ctx context.Context, cutoff trie.Hash, after *state.StaleIndex, limit int, g guard) (stats SweepStats, last *state.StaleIndex, n int, err error) {
	var rb *state.RecycleBatch

	body := func(r store.Reader, txn store.Txn) error {
		stats, last, n, rb = SweepStats{}, nil, 0, nil

		entries, err := state.ScanStale(r, cutoff, after, limit)
		if err != nil {
			return err
		}
		n = len(entries)
		if n == 0 {
			return nil
		}
		tail := entries[n-1]
		last = &tail

		rd := state.NewReader(r)
		var tx state.Tx
		if txn != nil {
			tx = state.NewTx(txn)
			if s.recycle != nil {
				rb = s.recycle.Begin(tx)
			}
		}

		for _, e := range entries {
			stats.Scanned++

			root, err := rd.Root(e.Root)
			if err != nil && !errors.Is(err, state.ErrRootNotFound) {
				return err
			}
			if g.protects(root) {
				stats.Protected++
				continue
			}

			rc, err := rd.Refcount(e.Node)
			if err != nil {
				return err
			}
			if rc > 0 {
				stats.Dropped++
				if txn != nil {
					if err := tx.DeleteStale(e); err != nil {
						return err
					}
				}
				continue
			}

			data, err := rd.Node(e.Node)
			if errors.Is(err, state.ErrNodeNotFound) {
				stats.Missing++
				if txn != nil {
					if err := tx.DeleteStale(e); err != nil {
						return err
					}
				}
				continue
			}
			if err != nil {
				return err
			}

			stats.Deleted++
			if txn == nil {
				continue
			}

			if rb != nil {
				rec := state.RecycleRecord{
					Bytes:             data,
					Phase:             state.RecyclePhaseIncremental,
					StaleRootOrCutoff: e.Root,
					DeletedAt:         s.now().UTC(),
				}
				if root != nil {
					rec.TxOrder = root.Order
				}
				staged, err := rb.Stage(e.Node, rec)
				if err != nil {
					return fmt.Errorf("recycle %s: %w", e.Node.Short(), err)
				}
				if staged {
					stats.Recycled++
				}
			}
			if err := tx.DeleteNode(e.Node); err != nil {
				return err
			}
			if err := tx.DeleteStale(e); err != nil {
				return err
			}
		}
		return nil
	}

	if s.dryRun {
		err = s.kv.View(ctx, func(r store.Reader) error { return body(r, nil) })
		return stats, last, n, err
	}

	err = s.kv.Update(ctx, func(txn store.Txn) error { return body(txn, txn) })
	if err == nil && rb != nil {
		rb.Commit()
	}
	return stats, last, n, err
}
