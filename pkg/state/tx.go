package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// Reader gives typed read access to state inside a caller-owned
// transaction.
type Reader struct {
	r store.Reader
}

// NewReader wraps r.
func NewReader(r store.Reader) Reader {
	return Reader{r: r}
}

// Node returns the bytes of h, or ErrNodeNotFound.
func (r Reader) Node(h trie.Hash) ([]byte, error) {
	v, err := r.r.Get(store.ColNodes, hashKey(h))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNodeNotFound
	}
	return v, err
}

// HasNode reports whether the bytes of h are stored.
func (r Reader) HasNode(h trie.Hash) (bool, error) {
	return r.r.Has(store.ColNodes, hashKey(h))
}

// Refcount returns the refcount of h; absence is 0.
func (r Reader) Refcount(h trie.Hash) (uint64, error) {
	v, err := r.r.Get(store.ColRefcounts, hashKey(h))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(v)
}

// Birth returns the first-write time of h. ok is false for nodes stored
// before birth tracking.
func (r Reader) Birth(h trie.Hash) (t time.Time, ok bool, err error) {
	v, err := r.r.Get(store.ColBirths, hashKey(h))
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = decodeUnixTime(v)
	return t, err == nil, err
}

// Stale returns the stale entry for idx, or nil.
func (r Reader) Stale(idx StaleIndex) (*StaleEntry, error) {
	v, err := r.r.Get(store.ColStale, staleKey(idx.Root, idx.Node))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e StaleEntry
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, fmt.Errorf("%w: stale entry: %v", ErrCorruptValue, err)
	}
	return &e, nil
}

// Root returns the registered root h, or ErrRootNotFound.
func (r Reader) Root(h trie.Hash) (*Root, error) {
	v, err := r.r.Get(store.ColRoots, hashKey(h))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRootNotFound
	}
	if err != nil {
		return nil, err
	}
	var root Root
	if err := json.Unmarshal(v, &root); err != nil {
		return nil, fmt.Errorf("%w: root: %v", ErrCorruptValue, err)
	}
	return &root, nil
}

// Tx gives typed read-write access to state inside a caller-owned
// transaction.
type Tx struct {
	Reader
	txn store.Txn
}

// NewTx wraps txn.
func NewTx(txn store.Txn) Tx {
	return Tx{Reader: Reader{r: txn}, txn: txn}
}

// Txn returns the underlying transaction.
func (t Tx) Txn() store.Txn {
	return t.txn
}

// PutNode stores the bytes of h. Existing bytes are left untouched.
// The birth record is written only when at is non-zero and the node is new.
func (t Tx) PutNode(h trie.Hash, data []byte, at time.Time) (created bool, err error) {
	exists, err := t.HasNode(h)
	if err != nil || exists {
		return false, err
	}
	if err := t.txn.Set(store.ColNodes, hashKey(h), data); err != nil {
		return false, err
	}
	if !at.IsZero() {
		if err := t.txn.Set(store.ColBirths, hashKey(h), encodeUnixTime(at)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// DeleteNode removes the bytes and birth record of h.
func (t Tx) DeleteNode(h trie.Hash) error {
	if err := t.txn.Delete(store.ColNodes, hashKey(h)); err != nil {
		return err
	}
	return t.txn.Delete(store.ColBirths, hashKey(h))
}

// IncRefcount increments the refcount of h and returns the new value.
func (t Tx) IncRefcount(h trie.Hash) (uint64, error) {
	n, err := t.Refcount(h)
	if err != nil {
		return 0, err
	}
	n++
	return n, t.txn.Set(store.ColRefcounts, hashKey(h), encodeUint64(n))
}

// decRefcount decrements the refcount of h, deleting the key at zero.
// Decrementing an absent count leaves it at zero and reports underflow.
func (t Tx) decRefcount(h trie.Hash) (n uint64, underflow bool, err error) {
	n, err = t.Refcount(h)
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, true, nil
	}
	n--
	if n == 0 {
		return 0, false, t.txn.Delete(store.ColRefcounts, hashKey(h))
	}
	return n, false, t.txn.Set(store.ColRefcounts, hashKey(h), encodeUint64(n))
}

// WriteStaleIndices decrements the refcount of every node and records a
// stale entry for each one that reaches zero.
func (t Tx) WriteStaleIndices(entries []StaleIndex, now time.Time) (recorded int, err error) {
	value, err := json.Marshal(StaleEntry{StaleAt: now.UTC()})
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		n, underflow, err := t.decRefcount(e.Node)
		if err != nil {
			return recorded, fmt.Errorf("decrement refcount of %s: %w", e.Node.Short(), err)
		}
		if underflow {
			logger.Warn("State: refcount decrement below zero", logger.Node(e.Node), logger.Root(e.Root))
		}
		if n > 0 {
			continue
		}
		if err := t.txn.Set(store.ColStale, staleKey(e.Root, e.Node), value); err != nil {
			return recorded, err
		}
		recorded++
	}
	return recorded, nil
}

// DeleteStale removes the stale entry idx.
func (t Tx) DeleteStale(idx StaleIndex) error {
	return t.txn.Delete(store.ColStale, staleKey(idx.Root, idx.Node))
}
