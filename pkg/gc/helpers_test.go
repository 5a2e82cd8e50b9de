package gc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/store/memory"
	"github.com/marmos91/stategc/pkg/trie"
)

var (
	errInjected = errors.New("injected failure")

	testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

const day = 24 * time.Hour

// faultyStore fails writes matched by the installed predicate.
type faultyStore struct {
	store.Store

	mu   sync.Mutex
	fail func(op string, col store.Column, key []byte) bool
}

func (f *faultyStore) failWhen(fn func(op string, col store.Column, key []byte) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

func (f *faultyStore) shouldFail(op string, col store.Column, key []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail != nil && f.fail(op, col, key)
}

func (f *faultyStore) Update(ctx context.Context, fn func(store.Txn) error) error {
	return f.Store.Update(ctx, func(txn store.Txn) error {
		return fn(&faultyTxn{Txn: txn, s: f})
	})
}

type faultyTxn struct {
	store.Txn
	s *faultyStore
}

func (t *faultyTxn) Set(col store.Column, key, value []byte) error {
	if t.s.shouldFail("set", col, key) {
		return errInjected
	}
	return t.Txn.Set(col, key, value)
}

func (t *faultyTxn) Delete(col store.Column, key []byte) error {
	if t.s.shouldFail("delete", col, key) {
		return errInjected
	}
	return t.Txn.Delete(col, key)
}

// failAfter returns a predicate matching every op on col after the first n.
func failAfter(op string, col store.Column, n int) func(string, store.Column, []byte) bool {
	seen := 0
	return func(o string, c store.Column, _ []byte) bool {
		if o != op || c != col {
			return false
		}
		seen++
		return seen > n
	}
}

// failPrefix matches op on col for keys starting with prefix.
func failPrefix(op string, col store.Column, prefix string) func(string, store.Column, []byte) bool {
	return func(o string, c store.Column, key []byte) bool {
		return o == op && c == col && bytes.HasPrefix(key, []byte(prefix))
	}
}

func newKV(t *testing.T) *memory.Store {
	t.Helper()
	kv := memory.New()
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func leaf(s string) trie.Node {
	return trie.Leaf([]byte(s))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// putLegacy stores nodes without birth records or refcounts, as nodes
// written before tracking existed.
func putLegacy(t *testing.T, kv store.Store, nodes ...trie.Node) {
	t.Helper()
	ns := state.NewNodeStore(kv)
	for _, n := range nodes {
		require.NoError(t, ns.PutNode(t.Context(), n))
	}
}

func putBorn(t *testing.T, kv store.Store, birth time.Time, nodes ...trie.Node) {
	t.Helper()
	ns := state.NewNodeStore(kv)
	for _, n := range nodes {
		require.NoError(t, ns.PutWithBirth(t.Context(), n.Hash, n.Data, birth))
	}
}

func hasNode(t *testing.T, kv store.Store, h trie.Hash) bool {
	t.Helper()
	ok, err := state.NewNodeStore(kv).Has(t.Context(), h)
	require.NoError(t, err)
	return ok
}

func nodeCount(t *testing.T, kv store.Store) int {
	t.Helper()
	n, err := state.NewNodeStore(kv).Count(t.Context())
	require.NoError(t, err)
	return n
}

func hashesOf(nodes ...trie.Node) []trie.Hash {
	out := make([]trie.Hash, len(nodes))
	for i, n := range nodes {
		out[i] = n.Hash
	}
	return out
}

func leaves(prefix string, n int) []trie.Node {
	out := make([]trie.Node, n)
	for i := range out {
		out[i] = leaf(fmt.Sprintf("%s-%d", prefix, i))
	}
	return out
}

// ============================================================================
// Legacy fixture
// ============================================================================

// legacyFixture is a store holding one registered root over an untracked
// tree plus untracked orphans. Only SweepExpired can reclaim the orphans.
//
//	root
//	├── x
//	│   ├── a
//	│   └── b
//	└── c
type legacyFixture struct {
	kv        *memory.Store
	root      trie.Node
	reachable []trie.Hash
	orphans   []trie.Hash
}

func newLegacyFixture(t *testing.T, orphans int) *legacyFixture {
	t.Helper()
	kv := newKV(t)

	a, b, c := leaf("live-a"), leaf("live-b"), leaf("live-c")
	x := trie.Internal(a.Hash, b.Hash)
	root := trie.Internal(x.Hash, c.Hash)
	putLegacy(t, kv, a, b, c, x, root)

	require.NoError(t, state.NewRootIndex(kv).Register(t.Context(), state.Root{
		Hash:        root.Hash,
		Order:       1,
		CommittedAt: testNow.Add(-30 * day),
	}))

	dead := leaves("orphan", orphans)
	putLegacy(t, kv, dead...)

	return &legacyFixture{
		kv:        kv,
		root:      root,
		reachable: hashesOf(root, x, a, b, c),
		orphans:   hashesOf(dead...),
	}
}

func (f *legacyFixture) requireSwept(t *testing.T, kv store.Store) {
	t.Helper()
	for _, h := range f.reachable {
		require.True(t, hasNode(t, kv, h), "reachable node %s deleted", h.Short())
	}
	for _, h := range f.orphans {
		require.False(t, hasNode(t, kv, h), "orphan %s kept", h.Short())
	}
}

// testGCConfig is small enough that every phase spans several batches.
func testGCConfig() GCConfig {
	cfg := DefaultGCConfig()
	cfg.Workers = 2
	cfg.ScanBatch = 3
	cfg.BatchSize = 2
	cfg.BloomBits = 1 << 16
	cfg.SkipConfirm = true
	return cfg
}

func newTestGC(t *testing.T, kv store.Store, cfg GCConfig, opts ...Option) *GarbageCollector {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock(testNow))}, opts...)
	gc, err := NewGarbageCollector(t.Context(), kv, cfg, opts...)
	require.NoError(t, err)
	return gc
}

func loadMeta(t *testing.T, kv store.Store) *state.GCState {
	t.Helper()
	st, err := state.NewMetaStore(kv).Load(t.Context())
	require.NoError(t, err)
	return st
}

// commit applies a version through the committer. Roots are committed
// within the day before testNow, later orders later.
func commit(t *testing.T, kv store.Store, order uint64, root trie.Node, nodes []trie.Node, superseded ...trie.Hash) state.Root {
	t.Helper()
	r := state.Root{
		Hash:        root.Hash,
		Order:       order,
		CommittedAt: testNow.Add(-day + time.Duration(order)*time.Hour),
	}
	data := [][]byte{root.Data}
	for _, n := range nodes {
		data = append(data, n.Data)
	}
	_, err := state.NewCommitter(kv).WithClock(fixedClock(testNow)).Apply(t.Context(), state.Commit{
		Root:       r,
		Nodes:      data,
		Superseded: superseded,
	})
	require.NoError(t, err)
	return r
}

// versions is a two-commit history:
//
//	v1: root1 -> (a, b)
//	v2: root2 -> (a, b2), superseding root1 and b
type versions struct {
	a, b, b2     trie.Node
	root1, root2 trie.Node
	r1, r2       state.Root
}

func newVersions(t *testing.T, kv store.Store) *versions {
	t.Helper()
	v := &versions{a: leaf("a"), b: leaf("b"), b2: leaf("b2")}
	v.root1 = trie.Internal(v.a.Hash, v.b.Hash)
	v.root2 = trie.Internal(v.a.Hash, v.b2.Hash)

	v.r1 = commit(t, kv, 1, v.root1, []trie.Node{v.a, v.b})
	v.r2 = commit(t, kv, 2, v.root2, []trie.Node{v.b2}, v.root1.Hash, v.b.Hash)
	return v
}

func staleCount(t *testing.T, kv store.Store) int {
	t.Helper()
	n, err := state.NewStaleIndexStore(kv).CountStaleIndices(t.Context())
	require.NoError(t, err)
	return n
}

func hasMetaKey(t *testing.T, kv store.Store, key string) bool {
	t.Helper()
	var ok bool
	require.NoError(t, kv.View(t.Context(), func(r store.Reader) error {
		var err error
		ok, err = r.Has(store.ColMeta, []byte(key))
		return err
	}))
	return ok
}
