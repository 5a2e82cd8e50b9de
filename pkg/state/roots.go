package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// Root is a committed state snapshot.
type Root struct {
	Hash        trie.Hash `json:"hash"`
	Order       uint64    `json:"order"`
	CommittedAt time.Time `json:"committed_at"`
}

// RootIndex is the registry of committed roots, ordered by Order.
type RootIndex struct {
	kv store.Store
}

// NewRootIndex returns a RootIndex over kv.
func NewRootIndex(kv store.Store) *RootIndex {
	return &RootIndex{kv: kv}
}

// Register records root. Registering the same hash again replaces it.
func (ri *RootIndex) Register(ctx context.Context, root Root) error {
	return ri.kv.Update(ctx, func(txn store.Txn) error {
		return registerRoot(NewTx(txn), root)
	})
}

func registerRoot(tx Tx, root Root) error {
	if prev, err := tx.Root(root.Hash); err == nil {
		if err := tx.txn.Delete(store.ColRootOrders, rootOrderKey(prev.Order, prev.Hash)); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrRootNotFound) {
		return err
	}

	value, err := json.Marshal(root)
	if err != nil {
		return err
	}
	if err := tx.txn.Set(store.ColRoots, hashKey(root.Hash), value); err != nil {
		return err
	}
	return tx.txn.Set(store.ColRootOrders, rootOrderKey(root.Order, root.Hash), nil)
}

// Get returns the registered root h, or ErrRootNotFound.
func (ri *RootIndex) Get(ctx context.Context, h trie.Hash) (*Root, error) {
	var root *Root
	err := ri.kv.View(ctx, func(r store.Reader) error {
		var err error
		root, err = NewReader(r).Root(h)
		return err
	})
	return root, err
}

// Remove unregisters h. Its nodes stay until the GC reclaims them.
func (ri *RootIndex) Remove(ctx context.Context, h trie.Hash) error {
	return ri.kv.Update(ctx, func(txn store.Txn) error {
		tx := NewTx(txn)
		root, err := tx.Root(h)
		if err != nil {
			return err
		}
		if err := txn.Delete(store.ColRootOrders, rootOrderKey(root.Order, root.Hash)); err != nil {
			return err
		}
		return txn.Delete(store.ColRoots, hashKey(h))
	})
}

// Latest returns up to n roots, newest first. n <= 0 returns all roots.
func (ri *RootIndex) Latest(ctx context.Context, n int) ([]Root, error) {
	var out []Root
	err := ri.kv.View(ctx, func(r store.Reader) error {
		var err error
		out, err = latestRoots(NewReader(r), n, nil)
		return err
	})
	return out, err
}

// latestRoots walks the order index newest first. keep, when set, decides
// whether to continue once n roots have been collected.
func latestRoots(rd Reader, n int, keep func(Root) bool) ([]Root, error) {
	var out []Root
	err := rd.r.Iterate(store.ColRootOrders, store.IterOptions{Reverse: true, KeysOnly: true}, func(k, _ []byte) (bool, error) {
		_, h, err := parseRootOrderKey(k)
		if err != nil {
			return false, err
		}
		root, err := rd.Root(h)
		if err != nil {
			return false, err
		}

		if n > 0 && len(out) >= n {
			if keep == nil || !keep(*root) {
				return false, nil
			}
		}
		out = append(out, *root)
		return true, nil
	})
	return out, err
}

// ProtectedRoots returns the count newest roots plus every root committed
// within windowDays of now, newest first. A zero window protects by count
// only.
func (ri *RootIndex) ProtectedRoots(ctx context.Context, count, windowDays int, now time.Time) ([]Root, error) {
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)
	inWindow := func(r Root) bool {
		return windowDays > 0 && !r.CommittedAt.Before(since)
	}

	var out []Root
	err := ri.kv.View(ctx, func(r store.Reader) error {
		rd := NewReader(r)
		if count > 0 {
			var err error
			out, err = latestRoots(rd, count, inWindow)
			return err
		}

		all, err := latestRoots(rd, 0, nil)
		if err != nil {
			return err
		}
		for _, root := range all {
			if inWindow(root) {
				out = append(out, root)
			}
		}
		return nil
	})
	return out, err
}

// Count returns the number of registered roots.
func (ri *RootIndex) Count(ctx context.Context) (int, error) {
	return store.Count(ctx, ri.kv, store.ColRoots)
}

// Hashes returns the hashes of roots.
func Hashes(roots []Root) []trie.Hash {
	out := make([]trie.Hash, len(roots))
	for i, r := range roots {
		out[i] = r.Hash
	}
	return out
}

// MinOrder returns the smallest Order among roots and false if roots is
// empty.
func MinOrder(roots []Root) (uint64, bool) {
	if len(roots) == 0 {
		return 0, false
	}
	min := roots[0].Order
	for _, r := range roots[1:] {
		if r.Order < min {
			min = r.Order
		}
	}
	return min, true
}
