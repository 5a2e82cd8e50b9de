package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// RecyclePhase names the sweep that deleted a recycled node.
type RecyclePhase string

const (
	RecyclePhaseIncremental  RecyclePhase = "incremental"
	RecyclePhaseSweepExpired RecyclePhase = "sweep_expired"
	RecyclePhaseManual       RecyclePhase = "manual"
)

// RecycleRecord keeps the bytes of a deleted node for recovery.
type RecycleRecord struct {
	Bytes             []byte       `json:"bytes"`
	Phase             RecyclePhase `json:"phase"`
	StaleRootOrCutoff trie.Hash    `json:"stale_root_or_cutoff"`
	TxOrder           uint64       `json:"tx_order"`
	DeletedAt         time.Time    `json:"deleted_at"`
	Note              string       `json:"note,omitempty"`

	// Seq is the insertion sequence, assigned by the store.
	Seq uint64 `json:"seq"`
}

// RecycleEntry pairs a record with its node hash.
type RecycleEntry struct {
	Hash   trie.Hash
	Record RecycleRecord
}

// RecycleBinStats reports capacity and usage.
type RecycleBinStats struct {
	CurrentEntries uint64 `json:"current_entries"`
	CurrentBytes   uint64 `json:"current_bytes"`
	MaxEntries     uint64 `json:"max_entries"`
	MaxBytes       uint64 `json:"max_bytes"`

	// Evicted and Oversized count events since the store was opened.
	Evicted   uint64 `json:"evicted"`
	Oversized uint64 `json:"oversized"`
}

type recycleCounters struct {
	Entries uint64 `json:"entries"`
	Bytes   uint64 `json:"bytes"`
	NextSeq uint64 `json:"next_seq"`
}

// RecycleBinStore is a bounded staging area for deleted node bytes.
//
// When staging a record would exceed max entries or max bytes, the oldest
// records (by insertion sequence) are evicted until both limits hold. A
// record larger than max bytes on its own is not staged: the caller's
// delete still proceeds and the event is counted as oversized.
//
// Usage counters are persisted in the same transaction as every change and
// mirrored in memory once the transaction commits.
type RecycleBinStore struct {
	kv         store.Store
	maxEntries uint64
	maxBytes   uint64

	entries   atomic.Uint64
	bytes     atomic.Uint64
	evicted   atomic.Uint64
	oversized atomic.Uint64
}

// NewRecycleBinStore opens the recycle bin over kv and loads its counters.
func NewRecycleBinStore(ctx context.Context, kv store.Store, maxEntries, maxBytes uint64) (*RecycleBinStore, error) {
	s := &RecycleBinStore{kv: kv, maxEntries: maxEntries, maxBytes: maxBytes}

	err := kv.View(ctx, func(r store.Reader) error {
		c, err := readRecycleCounters(r)
		if err != nil {
			return err
		}
		s.entries.Store(c.Entries)
		s.bytes.Store(c.Bytes)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load recycle bin counters: %w", err)
	}
	return s, nil
}

func readRecycleCounters(r store.Reader) (recycleCounters, error) {
	var c recycleCounters
	v, err := r.Get(store.ColMeta, []byte(metaKeyRecycleCounters))
	if errors.Is(err, store.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("%w: recycle counters: %v", ErrCorruptValue, err)
	}
	return c, nil
}

// GetStats returns current usage and limits.
func (s *RecycleBinStore) GetStats() RecycleBinStats {
	return RecycleBinStats{
		CurrentEntries: s.entries.Load(),
		CurrentBytes:   s.bytes.Load(),
		MaxEntries:     s.maxEntries,
		MaxBytes:       s.maxBytes,
		Evicted:        s.evicted.Load(),
		Oversized:      s.oversized.Load(),
	}
}

// ============================================================================
// Transactional staging
// ============================================================================

// RecycleBatch stages records inside a caller-owned transaction. Call
// Commit once the transaction has committed; a discarded transaction's
// batch is simply dropped.
type RecycleBatch struct {
	s        *RecycleBinStore
	tx       Tx
	counters *recycleCounters

	Staged    int
	Evicted   int
	Oversized int
}

// Begin starts a batch in tx.
func (s *RecycleBinStore) Begin(tx Tx) *RecycleBatch {
	return &RecycleBatch{s: s, tx: tx}
}

func (b *RecycleBatch) loadCounters() error {
	if b.counters != nil {
		return nil
	}
	c, err := readRecycleCounters(b.tx.r)
	if err != nil {
		return err
	}
	b.counters = &c
	return nil
}

func (b *RecycleBatch) saveCounters() error {
	value, err := json.Marshal(b.counters)
	if err != nil {
		return err
	}
	return b.tx.txn.Set(store.ColMeta, []byte(metaKeyRecycleCounters), value)
}

// Stage records rec for h, evicting the oldest records as needed. It
// reports false when the record alone exceeds the byte limit.
func (b *RecycleBatch) Stage(h trie.Hash, rec RecycleRecord) (bool, error) {
	size := uint64(len(rec.Bytes))
	if b.s.maxEntries == 0 || size > b.s.maxBytes {
		b.Oversized++
		logger.Warn("Recycle: record exceeds capacity, not staged",
			logger.Node(h), "size", size, "max_bytes", b.s.maxBytes)
		return false, nil
	}
	if err := b.loadCounters(); err != nil {
		return false, err
	}

	if err := b.remove(h); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return false, err
	}
	if err := b.evictFor(size); err != nil {
		return false, err
	}

	rec.Seq = b.counters.NextSeq
	b.counters.NextSeq++
	value, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if err := b.tx.txn.Set(store.ColRecycle, hashKey(h), value); err != nil {
		return false, err
	}
	if err := b.tx.txn.Set(store.ColRecycleOrder, encodeUint64(rec.Seq), orderValue(h, size)); err != nil {
		return false, err
	}

	b.counters.Entries++
	b.counters.Bytes += size
	b.Staged++
	return true, b.saveCounters()
}

// Remove deletes the record for h, or returns ErrRecordNotFound.
func (b *RecycleBatch) Remove(h trie.Hash) error {
	if err := b.loadCounters(); err != nil {
		return err
	}
	if err := b.remove(h); err != nil {
		return err
	}
	return b.saveCounters()
}

func (b *RecycleBatch) remove(h trie.Hash) error {
	rec, err := getRecycleRecord(b.tx.r, h)
	if err != nil {
		return err
	}
	if err := b.tx.txn.Delete(store.ColRecycle, hashKey(h)); err != nil {
		return err
	}
	if err := b.tx.txn.Delete(store.ColRecycleOrder, encodeUint64(rec.Seq)); err != nil {
		return err
	}
	b.counters.Entries = saturatingSub(b.counters.Entries, 1)
	b.counters.Bytes = saturatingSub(b.counters.Bytes, uint64(len(rec.Bytes)))
	return nil
}

// evictFor removes the oldest records until one more record of size bytes
// fits. Victims are collected before deleting so the walk never observes
// its own writes.
func (b *RecycleBatch) evictFor(size uint64) error {
	entries, total := b.counters.Entries, b.counters.Bytes
	if entries+1 <= b.s.maxEntries && total+size <= b.s.maxBytes {
		return nil
	}

	type victim struct {
		seq  uint64
		hash trie.Hash
		size uint64
	}
	var victims []victim

	err := b.tx.r.Iterate(store.ColRecycleOrder, store.IterOptions{}, func(k, v []byte) (bool, error) {
		seq, err := decodeUint64(k)
		if err != nil {
			return false, err
		}
		h, sz, err := parseOrderValue(v)
		if err != nil {
			return false, err
		}
		victims = append(victims, victim{seq: seq, hash: h, size: sz})
		entries = saturatingSub(entries, 1)
		total = saturatingSub(total, sz)
		return entries+1 > b.s.maxEntries || total+size > b.s.maxBytes, nil
	})
	if err != nil {
		return err
	}

	for _, v := range victims {
		if err := b.tx.txn.Delete(store.ColRecycle, hashKey(v.hash)); err != nil {
			return err
		}
		if err := b.tx.txn.Delete(store.ColRecycleOrder, encodeUint64(v.seq)); err != nil {
			return err
		}
		b.counters.Entries = saturatingSub(b.counters.Entries, 1)
		b.counters.Bytes = saturatingSub(b.counters.Bytes, v.size)
		b.Evicted++
	}
	if len(victims) > 0 {
		logger.Debug("Recycle: evicted oldest records", "count", len(victims))
	}
	return nil
}

// Commit publishes the batch's counter changes.
func (b *RecycleBatch) Commit() {
	if b.counters != nil {
		b.s.entries.Store(b.counters.Entries)
		b.s.bytes.Store(b.counters.Bytes)
	}
	b.s.evicted.Add(uint64(b.Evicted))
	b.s.oversized.Add(uint64(b.Oversized))
}

// ============================================================================
// Administrative surface
// ============================================================================

// PutRecord stages rec for h in its own transaction.
func (s *RecycleBinStore) PutRecord(ctx context.Context, h trie.Hash, rec RecycleRecord) error {
	var batch *RecycleBatch
	err := s.kv.Update(ctx, func(txn store.Txn) error {
		batch = s.Begin(NewTx(txn))
		_, err := batch.Stage(h, rec)
		return err
	})
	if err != nil {
		return err
	}
	batch.Commit()
	return nil
}

// GetRecord returns the record for h, or ErrRecordNotFound.
func (s *RecycleBinStore) GetRecord(ctx context.Context, h trie.Hash) (*RecycleRecord, error) {
	var rec *RecycleRecord
	err := s.kv.View(ctx, func(r store.Reader) error {
		var err error
		rec, err = getRecycleRecord(r, h)
		return err
	})
	return rec, err
}

// DeleteRecord permanently drops the record for h.
func (s *RecycleBinStore) DeleteRecord(ctx context.Context, h trie.Hash) error {
	var batch *RecycleBatch
	err := s.kv.Update(ctx, func(txn store.Txn) error {
		batch = s.Begin(NewTx(txn))
		return batch.Remove(h)
	})
	if err != nil {
		return err
	}
	batch.Commit()
	return nil
}

// ListRecords returns up to limit records, oldest first. limit <= 0
// returns all.
func (s *RecycleBinStore) ListRecords(ctx context.Context, limit int) ([]RecycleEntry, error) {
	var out []RecycleEntry
	err := s.kv.View(ctx, func(r store.Reader) error {
		return r.Iterate(store.ColRecycleOrder, store.IterOptions{}, func(_, v []byte) (bool, error) {
			h, _, err := parseOrderValue(v)
			if err != nil {
				return false, err
			}
			rec, err := getRecycleRecord(r, h)
			if err != nil {
				return false, err
			}
			out = append(out, RecycleEntry{Hash: h, Record: *rec})
			return limit <= 0 || len(out) < limit, nil
		})
	})
	return out, err
}

// Restore writes the recycled bytes of h back to the node store and drops
// the record. The restored node gets a fresh birth record at now so the
// expired sweep leaves it alone for a full window.
func (s *RecycleBinStore) Restore(ctx context.Context, h trie.Hash, now time.Time) error {
	var batch *RecycleBatch
	err := s.kv.Update(ctx, func(txn store.Txn) error {
		tx := NewTx(txn)
		rec, err := getRecycleRecord(txn, h)
		if err != nil {
			return err
		}
		if trie.HashBytes(rec.Bytes) != h {
			return fmt.Errorf("%w: recycled bytes do not hash to %s", ErrCorruptValue, h.Short())
		}
		if _, err := tx.PutNode(h, rec.Bytes, now); err != nil {
			return err
		}
		batch = s.Begin(tx)
		return batch.Remove(h)
	})
	if err != nil {
		return err
	}
	batch.Commit()
	logger.Info("Recycle: node restored", logger.Node(h))
	return nil
}

func getRecycleRecord(r store.Reader, h trie.Hash) (*RecycleRecord, error) {
	v, err := r.Get(store.ColRecycle, hashKey(h))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec RecycleRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("%w: recycle record: %v", ErrCorruptValue, err)
	}
	return &rec, nil
}

func orderValue(h trie.Hash, size uint64) []byte {
	v := make([]byte, trie.HashSize+8)
	copy(v, h[:])
	binary.BigEndian.PutUint64(v[trie.HashSize:], size)
	return v
}

func parseOrderValue(v []byte) (trie.Hash, uint64, error) {
	if len(v) != trie.HashSize+8 {
		return trie.Hash{}, 0, fmt.Errorf("%w: recycle order value of %d bytes", ErrCorruptValue, len(v))
	}
	var h trie.Hash
	copy(h[:], v)
	return h, binary.BigEndian.Uint64(v[trie.HashSize:]), nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
