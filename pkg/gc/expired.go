package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/bloom"
	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// SweepExpired deletes out-of-window nodes that are absent from a
// reachable-set filter. It is the backstop for nodes the refcount path
// never tracked.
type SweepExpired struct {
	kv     store.Store
	filter *bloom.Filter
	sweepOptions
}

// NewSweepExpired returns a sweep over kv that keeps every node in filter.
func NewSweepExpired(kv store.Store, filter *bloom.Filter, opts ...SweepOption) *SweepExpired {
	return &SweepExpired{kv: kv, filter: filter, sweepOptions: newSweepOptions(opts)}
}

// Sweep deletes the eligible candidates and returns how many were deleted.
// See SweepWithStats.
func (s *SweepExpired) Sweep(ctx context.Context, candidates []trie.Hash, windowDays int) (int, error) {
	st, err := s.SweepWithStats(ctx, candidates, windowDays)
	return st.Deleted, err
}

// SweepWithStats deletes every candidate that is
//
//   - absent from the filter
//   - out of window: no birth record, or born before now-windowDays (and
//     before the marking pass, when WithMarkedAt is set)
//   - unreferenced: refcount zero
//
// All three conditions are checked inside the deleting transaction.
// Candidates are processed in batches of the configured batch size.
// On cancellation the stats so far are returned with ctx.Err().
func (s *SweepExpired) SweepWithStats(ctx context.Context, candidates []trie.Hash, windowDays int) (SweepStats, error) {
	var total SweepStats
	if windowDays < 0 {
		return total, fmt.Errorf("%w: window must not be negative", ErrInvalidConfig)
	}

	cutoff := s.now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	if !s.markedAt.IsZero() && s.markedAt.Before(cutoff) {
		cutoff = s.markedAt
	}

	for off := 0; off < len(candidates); off += s.batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(off+s.batchSize, len(candidates))

		batch, err := s.sweepBatch(ctx, candidates[off:end], cutoff)
		if err != nil {
			return total, fmt.Errorf("expired sweep: %w", err)
		}
		total.Add(batch)
		s.metrics.ObserveSweep(SweepNameExpired, batch)
	}
	recycleUsage(s.metrics, s.recycle)

	logger.DebugCtx(ctx, "GC: expired sweep batch done",
		logger.Scanned(total.Scanned),
		logger.Deleted(total.Deleted),
		"bloom_skipped", total.BloomSkipped,
		"window_skipped", total.WindowSkipped,
		"ref_skipped", total.RefSkipped,
		logger.DryRun(s.dryRun))
	return total, nil
}

func (s *SweepExpired) sweepBatch(ctx context.Context, hashes []trie.Hash, cutoff time.Time) (stats SweepStats, err error) {
	var rb *state.RecycleBatch

	body := func(r store.Reader, txn store.Txn) error {
		stats, rb = SweepStats{}, nil

		rd := state.NewReader(r)
		var tx state.Tx
		if txn != nil {
			tx = state.NewTx(txn)
			if s.recycle != nil {
				rb = s.recycle.Begin(tx)
			}
		}

		for _, h := range hashes {
			stats.Scanned++

			if s.filter.Contains(h) {
				stats.BloomSkipped++
				continue
			}

			birth, ok, err := rd.Birth(h)
			if err != nil {
				return err
			}
			if ok && !birth.Before(cutoff) {
				stats.WindowSkipped++
				continue
			}

			rc, err := rd.Refcount(h)
			if err != nil {
				return err
			}
			if rc > 0 {
				stats.RefSkipped++
				continue
			}

			data, err := rd.Node(h)
			if errors.Is(err, state.ErrNodeNotFound) {
				stats.Missing++
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
				staged, err := rb.Stage(h, state.RecycleRecord{
					Bytes:             data,
					Phase:             state.RecyclePhaseSweepExpired,
					StaleRootOrCutoff: s.tag.Hash,
					TxOrder:           s.tag.Order,
					DeletedAt:         s.now().UTC(),
				})
				if err != nil {
					return fmt.Errorf("recycle %s: %w", h.Short(), err)
				}
				if staged {
					stats.Recycled++
				}
			}
			if err := tx.DeleteNode(h); err != nil {
				return err
			}
		}
		return nil
	}

	if s.dryRun {
		err = s.kv.View(ctx, func(r store.Reader) error { return body(r, nil) })
		return stats, err
	}

	err = s.kv.Update(ctx, func(txn store.Txn) error { return body(txn, txn) })
	if err == nil && rb != nil {
		rb.Commit()
	}
	return stats, err
}
