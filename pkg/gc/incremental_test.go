package gc

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

func TestIncrementalSweep_StaleNode(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t)

	h := leaf("h")
	root := leaf("root").Hash
	putLegacy(t, kv, h)

	refs := state.NewRefcountStore(kv)
	stale := state.NewStaleIndexStore(kv)
	idx := state.StaleIndex{Root: root, Node: h.Hash}

	n, err := refs.IncNodeRefcount(ctx, h.Hash)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	require.NoError(t, stale.WriteStaleIndices(ctx, []state.StaleIndex{idx}))
	n, err = refs.GetNodeRefcount(ctx, h.Hash)
	require.NoError(t, err)
	require.Zero(t, n)
	e, err := stale.GetStaleIndice(ctx, idx)
	require.NoError(t, err)
	require.NotNil(t, e)

	deleted, err := NewIncrementalSweep(kv).Sweep(ctx, root, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.False(t, hasNode(t, kv, h.Hash))

	e, err = stale.GetStaleIndice(ctx, idx)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestIncrementalSweep_Idempotent(t *testing.T) {
	kv := newKV(t)
	newVersions(t, kv)
	sweep := NewIncrementalSweep(kv)

	first, err := sweep.Sweep(t.Context(), trie.MaxHash, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	second, err := sweep.Sweep(t.Context(), trie.MaxHash, 10)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestIncrementalSweep_KeepsLiveVersion(t *testing.T) {
	kv := newKV(t)
	v := newVersions(t, kv)

	st, err := NewIncrementalSweep(kv).SweepWithStats(t.Context(), trie.MaxHash, 1)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 2, Deleted: 2}, st)

	assert.False(t, hasNode(t, kv, v.root1.Hash))
	assert.False(t, hasNode(t, kv, v.b.Hash))
	for _, h := range hashesOf(v.root2, v.a, v.b2) {
		assert.True(t, hasNode(t, kv, h))
	}
	assert.Zero(t, staleCount(t, kv))
}

func TestIncrementalSweep_ReReferencedNode(t *testing.T) {
	kv := newKV(t)
	v := newVersions(t, kv)

	// v3 reverts to b: b is referenced again before the sweep runs.
	root3 := trie.Internal(v.a.Hash, v.b.Hash)
	require.Equal(t, v.root1.Hash, root3.Hash)
	commit(t, kv, 3, root3, []trie.Node{v.b}, v.root2.Hash, v.b2.Hash)

	st, err := NewIncrementalSweep(kv).SweepWithStats(t.Context(), trie.MaxHash, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Deleted)
	assert.Equal(t, 2, st.Dropped)

	for _, h := range hashesOf(v.root1, v.a, v.b) {
		assert.True(t, hasNode(t, kv, h), "live node %s deleted", h.Short())
	}
	assert.False(t, hasNode(t, kv, v.root2.Hash))
	assert.False(t, hasNode(t, kv, v.b2.Hash))
	assert.Zero(t, staleCount(t, kv))
}

func TestIncrementalSweep_Protection(t *testing.T) {
	tests := []struct {
		name          string
		count         int
		wantDeleted   int
		wantProtected int
	}{
		{"newest root only", 1, 2, 0},
		{"older root protected", 2, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newKV(t)
			v := newVersions(t, kv)

			protector := NewRootProtector(state.NewRootIndex(kv), tt.count, 0, fixedClock(testNow))
			st, err := NewIncrementalSweep(kv, WithProtector(protector)).
				SweepWithStats(t.Context(), trie.MaxHash, 10)
			require.NoError(t, err)

			assert.Equal(t, tt.wantDeleted, st.Deleted)
			assert.Equal(t, tt.wantProtected, st.Protected)
			assert.Equal(t, tt.wantProtected, staleCount(t, kv))
			assert.Equal(t, tt.wantProtected > 0, hasNode(t, kv, v.b.Hash))
		})
	}
}

func TestIncrementalSweep_WindowProtection(t *testing.T) {
	kv := newKV(t)
	newVersions(t, kv)

	// Both roots were committed within the last day.
	protector := NewRootProtector(state.NewRootIndex(kv), 0, 2, fixedClock(testNow))
	deleted, err := NewIncrementalSweep(kv, WithProtector(protector)).Sweep(t.Context(), trie.MaxHash, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Equal(t, 2, staleCount(t, kv))
}

func TestIncrementalSweep_RecycleBin(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t)
	v := newVersions(t, kv)

	rb, err := state.NewRecycleBinStore(ctx, kv, 100, 1<<20)
	require.NoError(t, err)

	st, err := NewIncrementalSweep(kv, WithRecycleBin(rb), WithSweepClock(fixedClock(testNow))).
		SweepWithStats(ctx, trie.MaxHash, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Deleted)
	assert.Equal(t, 2, st.Recycled)

	rec, err := rb.GetRecord(ctx, v.b.Hash)
	require.NoError(t, err)
	assert.Equal(t, v.b.Data, rec.Bytes)
	assert.Equal(t, state.RecyclePhaseIncremental, rec.Phase)
	assert.Equal(t, v.root2.Hash, rec.StaleRootOrCutoff)
	assert.Equal(t, uint64(2), rec.TxOrder)
	assert.True(t, rec.DeletedAt.Equal(testNow))

	stats := rb.GetStats()
	assert.Equal(t, uint64(2), stats.CurrentEntries)
	assert.Equal(t, uint64(len(v.b.Data)+len(v.root1.Data)), stats.CurrentBytes)
}

func TestIncrementalSweep_DryRun(t *testing.T) {
	kv := newKV(t)
	v := newVersions(t, kv)

	deleted, err := NewIncrementalSweep(kv, WithDryRun(true)).Sweep(t.Context(), trie.MaxHash, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	assert.True(t, hasNode(t, kv, v.b.Hash))
	assert.True(t, hasNode(t, kv, v.root1.Hash))
	assert.Equal(t, 2, staleCount(t, kv))
}

func TestIncrementalSweep_Pagination(t *testing.T) {
	kv := newKV(t)

	kids := leaves("kid", 11)
	root1 := trie.Internal(hashesOf(kids...)...)
	root2 := leaf("empty")
	commit(t, kv, 1, root1, kids)
	commit(t, kv, 2, root2, nil, append(hashesOf(kids...), root1.Hash)...)
	require.Equal(t, 12, staleCount(t, kv))

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	deleted, err := NewIncrementalSweep(kv, WithSweepMetrics(m)).Sweep(t.Context(), trie.MaxHash, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, deleted)
	assert.Equal(t, 1, nodeCount(t, kv))
	assert.Zero(t, staleCount(t, kv))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.nodesDeleted.WithLabelValues(SweepNameIncremental)))
}

func TestIncrementalSweep_Cutoff(t *testing.T) {
	kv := newKV(t)
	newVersions(t, kv)

	// Every stale entry belongs to root2, above the zero hash.
	deleted, err := NewIncrementalSweep(kv).Sweep(t.Context(), trie.Hash{}, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Equal(t, 2, staleCount(t, kv))
}

func TestIncrementalSweep_InvalidBatch(t *testing.T) {
	_, err := NewIncrementalSweep(newKV(t)).Sweep(t.Context(), trie.MaxHash, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIncrementalSweep_Cancelled(t *testing.T) {
	kv := newKV(t)
	newVersions(t, kv)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	deleted, err := NewIncrementalSweep(kv).Sweep(ctx, trie.MaxHash, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, deleted)
	assert.Equal(t, 2, staleCount(t, kv))
}

func TestIncrementalSweep_FailedBatchLeavesState(t *testing.T) {
	mem := newKV(t)
	v := newVersions(t, mem)
	kv := &faultyStore{Store: mem}
	kv.failWhen(failAfter("delete", store.ColStale, 1))

	rb, err := state.NewRecycleBinStore(t.Context(), kv, 100, 1<<20)
	require.NoError(t, err)

	_, err = NewIncrementalSweep(kv, WithRecycleBin(rb)).Sweep(t.Context(), trie.MaxHash, 10)
	require.ErrorIs(t, err, errInjected)

	assert.True(t, hasNode(t, mem, v.b.Hash))
	assert.True(t, hasNode(t, mem, v.root1.Hash))
	assert.Equal(t, 2, staleCount(t, mem))
	assert.Zero(t, rb.GetStats().CurrentEntries)
}
