package state

import (
	"bytes"
	"context"
	"time"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// StaleIndex identifies a deletion candidate: Node became unreferenced no
// later than Root.
type StaleIndex struct {
	Root trie.Hash
	Node trie.Hash
}

// StaleEntry is the value stored for a StaleIndex.
type StaleEntry struct {
	StaleAt time.Time `json:"stale_at"`
}

// StaleIndexStore records and scans stale candidates.
type StaleIndexStore struct {
	kv  store.Store
	now func() time.Time
}

// NewStaleIndexStore returns a StaleIndexStore over kv.
func NewStaleIndexStore(kv store.Store) *StaleIndexStore {
	return &StaleIndexStore{kv: kv, now: time.Now}
}

// WithClock replaces the clock used for StaleAt. For tests.
func (s *StaleIndexStore) WithClock(now func() time.Time) *StaleIndexStore {
	s.now = now
	return s
}

// WriteStaleIndices decrements the refcount of every entry's node and, for
// each one that reaches zero, records the stale entry. Everything commits
// in one transaction or not at all.
func (s *StaleIndexStore) WriteStaleIndices(ctx context.Context, entries []StaleIndex) error {
	if len(entries) == 0 {
		return nil
	}
	return s.kv.Update(ctx, func(txn store.Txn) error {
		_, err := NewTx(txn).WriteStaleIndices(entries, s.now())
		return err
	})
}

// GetStaleIndice returns the entry for idx, or nil if there is none.
func (s *StaleIndexStore) GetStaleIndice(ctx context.Context, idx StaleIndex) (*StaleEntry, error) {
	var e *StaleEntry
	err := s.kv.View(ctx, func(r store.Reader) error {
		var err error
		e, err = NewReader(r).Stale(idx)
		return err
	})
	return e, err
}

// ScanStaleIndices returns up to limit entries with Root <= cutoff (byte
// order), in ascending key order, strictly after the cursor when one is
// given.
func (s *StaleIndexStore) ScanStaleIndices(ctx context.Context, cutoff trie.Hash, after *StaleIndex, limit int) ([]StaleIndex, error) {
	var out []StaleIndex
	err := s.kv.View(ctx, func(r store.Reader) error {
		var err error
		out, err = ScanStale(r, cutoff, after, limit)
		return err
	})
	return out, err
}

// ScanStale is ScanStaleIndices inside a caller-owned transaction.
func ScanStale(r store.Reader, cutoff trie.Hash, after *StaleIndex, limit int) ([]StaleIndex, error) {
	var out []StaleIndex
	opts := store.IterOptions{KeysOnly: true}
	var afterKey []byte
	if after != nil {
		afterKey = staleKey(after.Root, after.Node)
		opts.Start = afterKey
	}

	err := r.Iterate(store.ColStale, opts, func(k, _ []byte) (bool, error) {
		if afterKey != nil && bytes.Equal(k, afterKey) {
			return true, nil
		}
		idx, err := parseStaleKey(k)
		if err != nil {
			return false, err
		}
		if bytes.Compare(idx.Root[:], cutoff[:]) > 0 {
			return false, nil
		}
		out = append(out, idx)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// CountStaleIndices returns the number of pending stale entries.
func (s *StaleIndexStore) CountStaleIndices(ctx context.Context) (int, error) {
	return store.Count(ctx, s.kv, store.ColStale)
}
