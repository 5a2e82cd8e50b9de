package state

import (
	"context"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// resetBatch bounds the number of deletes per transaction in Reset.
const resetBatch = 10_000

// ReachSeenSet is an exact, persisted visited set for reachability
// traversal. It trades disk writes for the Bloom filter's false positives:
// with it, no reachable subtree is skipped because of a colliding hash.
type ReachSeenSet struct {
	kv store.Store
}

// NewReachSeenSet returns a ReachSeenSet over kv.
func NewReachSeenSet(kv store.Store) *ReachSeenSet {
	return &ReachSeenSet{kv: kv}
}

// MarkNew adds hashes to the set and returns those that were not already
// present, in input order. Duplicates within hashes are returned once.
func (s *ReachSeenSet) MarkNew(ctx context.Context, hashes []trie.Hash) ([]trie.Hash, error) {
	var fresh []trie.Hash
	err := s.kv.Update(ctx, func(txn store.Txn) error {
		fresh = fresh[:0]
		for _, h := range hashes {
			ok, err := txn.Has(store.ColReachSeen, hashKey(h))
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if err := txn.Set(store.ColReachSeen, hashKey(h), nil); err != nil {
				return err
			}
			fresh = append(fresh, h)
		}
		return nil
	})
	return fresh, err
}

// Contains reports whether h has been marked.
func (s *ReachSeenSet) Contains(ctx context.Context, h trie.Hash) (bool, error) {
	var ok bool
	err := s.kv.View(ctx, func(r store.Reader) error {
		var err error
		ok, err = r.Has(store.ColReachSeen, hashKey(h))
		return err
	})
	return ok, err
}

// Reset empties the set in bounded transactions.
func (s *ReachSeenSet) Reset(ctx context.Context) error {
	for {
		var keys [][]byte
		err := s.kv.View(ctx, func(r store.Reader) error {
			return r.Iterate(store.ColReachSeen, store.IterOptions{KeysOnly: true}, func(k, _ []byte) (bool, error) {
				keys = append(keys, append([]byte(nil), k...))
				return len(keys) < resetBatch, nil
			})
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		err = s.kv.Update(ctx, func(txn store.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(store.ColReachSeen, k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
}

// Count returns the number of marked hashes.
func (s *ReachSeenSet) Count(ctx context.Context) (int, error) {
	return store.Count(ctx, s.kv, store.ColReachSeen)
}
