package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

func TestCommitter_Apply(t *testing.T) {
	kv := newKV(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCommitter(kv).WithClock(fixedClock(now))

	a, b := leaf("a"), leaf("b")
	root1 := trie.Internal(a.Hash, b.Hash)

	res, err := c.Apply(t.Context(), Commit{
		Root:  Root{Hash: root1.Hash, Order: 1},
		Nodes: [][]byte{root1.Data, a.Data, b.Data},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Zero(t, res.Stale)

	rs := NewRefcountStore(kv)
	for _, h := range []trie.Hash{root1.Hash, a.Hash, b.Hash} {
		n, err := rs.GetNodeRefcount(t.Context(), h)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	}

	root, err := NewRootIndex(kv).Get(t.Context(), root1.Hash)
	require.NoError(t, err)
	assert.True(t, now.Equal(root.CommittedAt))

	err = kv.View(t.Context(), func(r store.Reader) error {
		birth, ok, err := NewReader(r).Birth(a.Hash)
		assert.True(t, ok)
		assert.True(t, now.Equal(birth))
		return err
	})
	require.NoError(t, err)

	// Second version replaces b with c: root1 and b go stale.
	cc := leaf("c")
	root2 := trie.Internal(a.Hash, cc.Hash)
	res, err = c.Apply(t.Context(), Commit{
		Root:       Root{Hash: root2.Hash, Order: 2},
		Nodes:      [][]byte{root2.Data, cc.Data},
		Superseded: []trie.Hash{root1.Hash, b.Hash},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.Stale)

	ss := NewStaleIndexStore(kv)
	entry, err := ss.GetStaleIndice(t.Context(), StaleIndex{Root: root2.Hash, Node: b.Hash})
	require.NoError(t, err)
	assert.NotNil(t, entry)

	n, err := rs.GetNodeRefcount(t.Context(), a.Hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestCommitter_ReReferenceKeepsBytes(t *testing.T) {
	kv := newKV(t)
	c := NewCommitter(kv)
	a := leaf("shared")

	_, err := c.Apply(t.Context(), Commit{Root: Root{Hash: hashOf(1), Order: 1}, Nodes: [][]byte{a.Data}})
	require.NoError(t, err)
	_, err = c.Apply(t.Context(), Commit{Root: Root{Hash: hashOf(2), Order: 2}, Superseded: []trie.Hash{a.Hash}})
	require.NoError(t, err)

	res, err := c.Apply(t.Context(), Commit{Root: Root{Hash: hashOf(3), Order: 3}, Nodes: [][]byte{a.Data}})
	require.NoError(t, err)
	assert.Zero(t, res.Created)

	n, err := NewRefcountStore(kv).GetNodeRefcount(t.Context(), a.Hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	// The stale entry remains until a sweep drops it.
	entry, err := NewStaleIndexStore(kv).GetStaleIndice(t.Context(), StaleIndex{Root: hashOf(2), Node: a.Hash})
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestCommitter_FailureLeavesNothing(t *testing.T) {
	base := newKV(t)
	c := NewCommitter(&failingStore{Store: base, failCol: store.ColRefcounts})

	_, err := c.Apply(t.Context(), Commit{Root: Root{Hash: hashOf(1), Order: 1}, Nodes: [][]byte{leaf("a").Data}})
	require.ErrorIs(t, err, errInjected)

	for _, col := range store.Columns {
		n, err := store.Count(t.Context(), base, col)
		require.NoError(t, err)
		assert.Zero(t, n, "column %s", col)
	}
}
