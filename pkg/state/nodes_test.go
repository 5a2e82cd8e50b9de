package state

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

func TestNodeStore_CRUD(t *testing.T) {
	ns := NewNodeStore(newKV(t))
	n := leaf("a")

	_, err := ns.Get(t.Context(), n.Hash)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, ns.PutNode(t.Context(), n))
	data, err := ns.Get(t.Context(), n.Hash)
	require.NoError(t, err)
	assert.Equal(t, n.Data, data)

	ok, err := ns.Has(t.Context(), n.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ns.DeleteBatch(t.Context(), []trie.Hash{n.Hash, hashOf(1)}))
	ok, err = ns.Has(t.Context(), n.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeStore_PutWithBirth(t *testing.T) {
	kv := newKV(t)
	ns := NewNodeStore(kv)
	n := leaf("a")
	first := time.Unix(1_700_000_000, 0)

	require.NoError(t, ns.PutWithBirth(t.Context(), n.Hash, n.Data, first))
	require.NoError(t, ns.PutWithBirth(t.Context(), n.Hash, n.Data, first.Add(time.Hour)))

	err := kv.View(t.Context(), func(r store.Reader) error {
		birth, ok, err := NewReader(r).Birth(n.Hash)
		assert.True(t, ok)
		assert.True(t, first.Equal(birth), "birth must keep the first write")
		return err
	})
	require.NoError(t, err)

	require.NoError(t, ns.DeleteBatch(t.Context(), []trie.Hash{n.Hash}))
	err = kv.View(t.Context(), func(r store.Reader) error {
		_, ok, err := NewReader(r).Birth(n.Hash)
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)
}

func TestNodeStore_GetMany(t *testing.T) {
	ns := NewNodeStore(newKV(t))
	a, b := leaf("a"), leaf("b")
	require.NoError(t, ns.PutNode(t.Context(), a))
	require.NoError(t, ns.PutNode(t.Context(), b))

	got, err := ns.GetMany(t.Context(), []trie.Hash{a.Hash, hashOf(3), b.Hash})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{a.Data, nil, b.Data}, got)
}

func TestNodeStore_HashesPagination(t *testing.T) {
	kv := newKV(t)
	nodes := nodesN(10)
	putNodes(t, kv, nodes...)
	ns := NewNodeStore(kv)

	var want []trie.Hash
	for _, n := range nodes {
		want = append(want, n.Hash)
	}
	sort.Slice(want, func(i, j int) bool { return string(want[i][:]) < string(want[j][:]) })

	var got []trie.Hash
	var after *trie.Hash
	for {
		page, err := ns.Hashes(t.Context(), after, 3)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 3)
		got = append(got, page...)
		last := page[len(page)-1]
		after = &last
	}
	assert.Equal(t, want, got)

	count, err := ns.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestNodeStore_Iterate(t *testing.T) {
	kv := newKV(t)
	putNodes(t, kv, nodesN(5)...)

	seen := 0
	err := NewNodeStore(kv).Iterate(t.Context(), func(h trie.Hash, data []byte) bool {
		assert.Equal(t, h, trie.HashBytes(data))
		seen++
		return seen < 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
}

func TestReachSeenSet(t *testing.T) {
	rs := NewReachSeenSet(newKV(t))

	fresh, err := rs.MarkNew(t.Context(), []trie.Hash{hashOf(1), hashOf(2), hashOf(1)})
	require.NoError(t, err)
	assert.Equal(t, []trie.Hash{hashOf(1), hashOf(2)}, fresh)

	fresh, err = rs.MarkNew(t.Context(), []trie.Hash{hashOf(2), hashOf(3)})
	require.NoError(t, err)
	assert.Equal(t, []trie.Hash{hashOf(3)}, fresh)

	ok, err := rs.Contains(t.Context(), hashOf(3))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rs.Reset(t.Context()))
	n, err := rs.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}
