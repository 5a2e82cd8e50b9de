// Package memory implements store.Store on Go maps.
//
// Transactions buffer their writes in an overlay and apply them under the
// write lock only when the callback succeeds. Update calls are serialized,
// View calls run concurrently with each other.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/marmos91/stategc/pkg/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool

	compactions atomic.Int64
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// View runs fn against a consistent snapshot.
func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.ErrClosed
	}
	return fn(&txn{base: s.data})
}

// Update runs fn in a transaction and commits its writes if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(t store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	t := &txn{base: s.data, writes: make(map[string][]byte)}
	if err := fn(t); err != nil {
		return err
	}

	for k, v := range t.writes {
		if v == nil {
			delete(s.data, k)
		} else {
			s.data[k] = v
		}
	}
	return nil
}

// Compact is a no-op apart from counting calls.
func (s *Store) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}

	s.compactions.Add(1)
	return nil
}

// Compactions returns how many times Compact succeeded.
func (s *Store) Compactions() int64 {
	return s.compactions.Load()
}

// Close releases the data. Further calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}

// ============================================================================
// Transaction
// ============================================================================

// txn reads through its own overlay to the base map. A nil overlay value
// marks a deletion.
type txn struct {
	base   map[string][]byte
	writes map[string][]byte
}

func (t *txn) lookup(full string) ([]byte, bool) {
	if t.writes != nil {
		if v, ok := t.writes[full]; ok {
			return v, v != nil
		}
	}
	v, ok := t.base[full]
	return v, ok
}

func (t *txn) Get(col store.Column, key []byte) ([]byte, error) {
	v, ok := t.lookup(string(col.Key(key)))
	if !ok {
		return nil, store.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *txn) Has(col store.Column, key []byte) (bool, error) {
	_, ok := t.lookup(string(col.Key(key)))
	return ok, nil
}

func (t *txn) Set(col store.Column, key, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	t.writes[string(col.Key(key))] = v
	return nil
}

func (t *txn) Delete(col store.Column, key []byte) error {
	t.writes[string(col.Key(key))] = nil
	return nil
}

// Iterate collects the matching keys up front, so fn may write to the
// transaction without disturbing the walk.
func (t *txn) Iterate(col store.Column, opts store.IterOptions, fn store.IterFunc) error {
	prefix := string(col.Prefix())
	start := ""
	if opts.Start != nil {
		start = string(col.Key(opts.Start))
	}

	seen := make(map[string]struct{})
	var keys []string
	collect := func(k string) {
		if len(k) == 0 || k[0] != prefix[0] {
			return
		}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range t.base {
		collect(k)
	}
	for k := range t.writes {
		collect(k)
	}

	if opts.Reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	} else {
		sort.Strings(keys)
	}

	for _, k := range keys {
		if start != "" {
			if !opts.Reverse && k < start {
				continue
			}
			if opts.Reverse && k > start {
				continue
			}
		}

		v, ok := t.lookup(k)
		if !ok {
			continue
		}
		if opts.KeysOnly {
			v = nil
		}

		cont, err := fn([]byte(k[1:]), v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
