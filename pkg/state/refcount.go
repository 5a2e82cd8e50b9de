package state

import (
	"context"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// RefcountStore tracks live references per node hash. Counts are uint64
// big-endian; an absent key is zero and a count reaching zero deletes its
// key.
//
// There is no public decrement: counts only go down through
// StaleIndexStore.WriteStaleIndices, in the same transaction that records
// the stale entry.
type RefcountStore struct {
	kv store.Store
}

// NewRefcountStore returns a RefcountStore over kv.
func NewRefcountStore(kv store.Store) *RefcountStore {
	return &RefcountStore{kv: kv}
}

// GetNodeRefcount returns the refcount of h, 0 if absent.
func (s *RefcountStore) GetNodeRefcount(ctx context.Context, h trie.Hash) (uint64, error) {
	var n uint64
	err := s.kv.View(ctx, func(r store.Reader) error {
		var err error
		n, err = NewReader(r).Refcount(h)
		return err
	})
	return n, err
}

// IncNodeRefcount creates or increments the refcount of h and returns the
// new value.
func (s *RefcountStore) IncNodeRefcount(ctx context.Context, h trie.Hash) (uint64, error) {
	var n uint64
	err := s.kv.Update(ctx, func(txn store.Txn) error {
		var err error
		n, err = NewTx(txn).IncRefcount(h)
		return err
	})
	return n, err
}
