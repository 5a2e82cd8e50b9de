package state

import (
	"context"
	"time"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// NodeStore holds node bytes keyed by hash.
//
// Put writes raw bytes without a birth record; nodes written through the
// Committer get one. Nodes without a birth record are treated as old by
// the expired sweep.
type NodeStore struct {
	kv store.Store
}

// NewNodeStore returns a NodeStore over kv.
func NewNodeStore(kv store.Store) *NodeStore {
	return &NodeStore{kv: kv}
}

// Get returns the bytes of h, or ErrNodeNotFound.
func (s *NodeStore) Get(ctx context.Context, h trie.Hash) ([]byte, error) {
	var data []byte
	err := s.kv.View(ctx, func(r store.Reader) error {
		var err error
		data, err = NewReader(r).Node(h)
		return err
	})
	return data, err
}

// Has reports whether the bytes of h are stored.
func (s *NodeStore) Has(ctx context.Context, h trie.Hash) (bool, error) {
	var ok bool
	err := s.kv.View(ctx, func(r store.Reader) error {
		var err error
		ok, err = NewReader(r).HasNode(h)
		return err
	})
	return ok, err
}

// GetMany fetches several nodes in one read transaction. Missing nodes are
// returned as nil entries.
func (s *NodeStore) GetMany(ctx context.Context, hashes []trie.Hash) ([][]byte, error) {
	out := make([][]byte, len(hashes))
	err := s.kv.View(ctx, func(r store.Reader) error {
		rd := NewReader(r)
		for i, h := range hashes {
			data, err := rd.Node(h)
			if err == ErrNodeNotFound {
				continue
			}
			if err != nil {
				return err
			}
			out[i] = data
		}
		return nil
	})
	return out, err
}

// Put stores data under h without a birth record.
func (s *NodeStore) Put(ctx context.Context, h trie.Hash, data []byte) error {
	return s.kv.Update(ctx, func(txn store.Txn) error {
		return txn.Set(store.ColNodes, hashKey(h), data)
	})
}

// PutNode stores n under its content hash.
func (s *NodeStore) PutNode(ctx context.Context, n trie.Node) error {
	return s.Put(ctx, n.Hash, n.Data)
}

// PutWithBirth stores data under h and records birth as its first-write
// time if the node is new.
func (s *NodeStore) PutWithBirth(ctx context.Context, h trie.Hash, data []byte, birth time.Time) error {
	return s.kv.Update(ctx, func(txn store.Txn) error {
		_, err := NewTx(txn).PutNode(h, data, birth)
		return err
	})
}

// DeleteBatch removes the given nodes and their birth records in one
// transaction. Absent hashes are ignored.
func (s *NodeStore) DeleteBatch(ctx context.Context, hashes []trie.Hash) error {
	return s.kv.Update(ctx, func(txn store.Txn) error {
		tx := NewTx(txn)
		for _, h := range hashes {
			if err := tx.DeleteNode(h); err != nil {
				return err
			}
		}
		return nil
	})
}

// Hashes returns up to limit node hashes in ascending order, starting
// after the given hash (or at the beginning when after is nil).
func (s *NodeStore) Hashes(ctx context.Context, after *trie.Hash, limit int) ([]trie.Hash, error) {
	var out []trie.Hash
	opts := store.IterOptions{KeysOnly: true}
	if after != nil {
		opts.Start = after[:]
	}

	err := s.kv.View(ctx, func(r store.Reader) error {
		return r.Iterate(store.ColNodes, opts, func(k, _ []byte) (bool, error) {
			h, err := trie.BytesToHash(k)
			if err != nil {
				return false, err
			}
			if after != nil && h == *after {
				return true, nil
			}
			out = append(out, h)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	return out, err
}

// Iterate calls fn for every stored node in hash order until fn returns
// false.
func (s *NodeStore) Iterate(ctx context.Context, fn func(h trie.Hash, data []byte) bool) error {
	return s.kv.View(ctx, func(r store.Reader) error {
		n := 0
		return r.Iterate(store.ColNodes, store.IterOptions{}, func(k, v []byte) (bool, error) {
			n++
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return false, err
				}
			}
			h, err := trie.BytesToHash(k)
			if err != nil {
				return false, err
			}
			return fn(h, v), nil
		})
	})
}

// Count returns the number of stored nodes.
func (s *NodeStore) Count(ctx context.Context) (int, error) {
	return store.Count(ctx, s.kv, store.ColNodes)
}
