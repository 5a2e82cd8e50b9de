package state

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/store/memory"
	"github.com/marmos91/stategc/pkg/trie"
)

var errInjected = errors.New("injected failure")

// failingStore fails any transaction that writes to failCol.
type failingStore struct {
	store.Store
	failCol store.Column
}

func (f *failingStore) Update(ctx context.Context, fn func(store.Txn) error) error {
	return f.Store.Update(ctx, func(txn store.Txn) error {
		return fn(&failingTxn{Txn: txn, failCol: f.failCol})
	})
}

type failingTxn struct {
	store.Txn
	failCol store.Column
}

func (t *failingTxn) Set(col store.Column, key, value []byte) error {
	if col == t.failCol {
		return errInjected
	}
	return t.Txn.Set(col, key, value)
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

func hashOf(b byte) trie.Hash {
	var h trie.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func putNodes(t *testing.T, kv store.Store, nodes ...trie.Node) {
	t.Helper()
	ns := NewNodeStore(kv)
	for _, n := range nodes {
		require.NoError(t, ns.PutNode(t.Context(), n))
	}
}

func nodesN(n int) []trie.Node {
	out := make([]trie.Node, n)
	for i := range out {
		out[i] = leaf(fmt.Sprintf("node-%d", i))
	}
	return out
}
