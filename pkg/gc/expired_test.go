package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

func TestSweepExpired_ReachableKept(t *testing.T) {
	kv := newKV(t)
	h1, h2 := leaf("h1"), leaf("h2")
	putLegacy(t, kv, h1, h2)

	filter := newFilter()
	scanned, err := NewReachableBuilder(state.NewNodeStore(kv), filter).
		Build(t.Context(), []trie.Hash{h1.Hash}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, scanned)

	deleted, err := NewSweepExpired(kv, filter).Sweep(t.Context(), hashesOf(h1, h2), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.True(t, hasNode(t, kv, h1.Hash))
	assert.False(t, hasNode(t, kv, h2.Hash))
}

func TestSweepExpired_NeverDeletesFilterMembers(t *testing.T) {
	for _, window := range []int{0, 1, 7, 365} {
		kv := newKV(t)
		nodes := leaves("member", 20)
		putLegacy(t, kv, nodes...)

		filter := newFilter()
		for _, n := range nodes {
			filter.Insert(n.Hash)
		}

		st, err := NewSweepExpired(kv, filter, WithSweepClock(fixedClock(testNow))).
			SweepWithStats(t.Context(), hashesOf(nodes...), window)
		require.NoError(t, err)
		assert.Zero(t, st.Deleted, "window %d", window)
		assert.Equal(t, len(nodes), st.BloomSkipped, "window %d", window)
		assert.Equal(t, len(nodes), nodeCount(t, kv), "window %d", window)
	}
}

func TestSweepExpired_Window(t *testing.T) {
	tests := []struct {
		name     string
		birth    int // days before testNow; negative means no birth record
		window   int
		markedAt int // days before testNow; zero means unset
		want     bool
	}{
		{"no birth record", -1, 7, 0, true},
		{"born before window", 10, 7, 0, true},
		{"born inside window", 1, 7, 0, false},
		{"born at cutoff", 7, 7, 0, false},
		{"zero window", 1, 0, 0, true},
		{"born after marking started", 10, 7, 20, false},
		{"born before marking started", 30, 7, 20, true},
		{"marking started inside window", 10, 7, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newKV(t)
			n := leaf("candidate")
			if tt.birth < 0 {
				putLegacy(t, kv, n)
			} else {
				putBorn(t, kv, testNow.Add(-time.Duration(tt.birth)*day), n)
			}

			opts := []SweepOption{WithSweepClock(fixedClock(testNow))}
			if tt.markedAt > 0 {
				opts = append(opts, WithMarkedAt(testNow.Add(-time.Duration(tt.markedAt)*day)))
			}

			st, err := NewSweepExpired(kv, newFilter(), opts...).
				SweepWithStats(t.Context(), hashesOf(n), tt.window)
			require.NoError(t, err)

			if tt.want {
				assert.Equal(t, 1, st.Deleted)
				assert.False(t, hasNode(t, kv, n.Hash))
				return
			}
			assert.Equal(t, 1, st.WindowSkipped)
			assert.True(t, hasNode(t, kv, n.Hash))
		})
	}
}

func TestSweepExpired_RefcountKept(t *testing.T) {
	kv := newKV(t)
	n := leaf("tracked")
	putLegacy(t, kv, n)
	_, err := state.NewRefcountStore(kv).IncNodeRefcount(t.Context(), n.Hash)
	require.NoError(t, err)

	st, err := NewSweepExpired(kv, newFilter()).SweepWithStats(t.Context(), hashesOf(n), 0)
	require.NoError(t, err)
	assert.Zero(t, st.Deleted)
	assert.Equal(t, 1, st.RefSkipped)
	assert.True(t, hasNode(t, kv, n.Hash))
}

func TestSweepExpired_MissingCandidate(t *testing.T) {
	kv := newKV(t)

	st, err := NewSweepExpired(kv, newFilter()).SweepWithStats(t.Context(), hashesOf(leaf("gone")), 0)
	require.NoError(t, err)
	assert.Zero(t, st.Deleted)
	assert.Equal(t, 1, st.Missing)
}

func TestSweepExpired_DeletesBirthRecord(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t)
	n := leaf("old")
	putBorn(t, kv, testNow.Add(-30*day), n)

	_, err := NewSweepExpired(kv, newFilter(), WithSweepClock(fixedClock(testNow))).
		Sweep(ctx, hashesOf(n), 7)
	require.NoError(t, err)

	err = kv.View(ctx, func(r store.Reader) error {
		_, ok, err := state.NewReader(r).Birth(n.Hash)
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)
}

func TestSweepExpired_RecycleBin(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t)
	nodes := leaves("dead", 3)
	putLegacy(t, kv, nodes...)

	rb, err := state.NewRecycleBinStore(ctx, kv, 100, 1<<20)
	require.NoError(t, err)

	tag := state.Root{Hash: leaf("newest").Hash, Order: 9}
	st, err := NewSweepExpired(kv, newFilter(),
		WithRecycleBin(rb),
		WithRecycleTag(tag),
		WithSweepClock(fixedClock(testNow)),
		WithBatchSize(2)).
		SweepWithStats(ctx, hashesOf(nodes...), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Deleted)
	assert.Equal(t, 3, st.Recycled)

	rec, err := rb.GetRecord(ctx, nodes[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, nodes[0].Data, rec.Bytes)
	assert.Equal(t, state.RecyclePhaseSweepExpired, rec.Phase)
	assert.Equal(t, tag.Hash, rec.StaleRootOrCutoff)
	assert.Equal(t, uint64(9), rec.TxOrder)
	assert.Equal(t, uint64(3), rb.GetStats().CurrentEntries)
}

func TestSweepExpired_DryRun(t *testing.T) {
	kv := newKV(t)
	nodes := leaves("dead", 4)
	putLegacy(t, kv, nodes...)

	deleted, err := NewSweepExpired(kv, newFilter(), WithDryRun(true), WithBatchSize(3)).
		Sweep(t.Context(), hashesOf(nodes...), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
	assert.Equal(t, 4, nodeCount(t, kv))
}

func TestSweepExpired_NegativeWindow(t *testing.T) {
	_, err := NewSweepExpired(newKV(t), newFilter()).Sweep(t.Context(), nil, -1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSweepExpired_Cancelled(t *testing.T) {
	kv := newKV(t)
	nodes := leaves("dead", 4)
	putLegacy(t, kv, nodes...)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	deleted, err := NewSweepExpired(kv, newFilter()).Sweep(ctx, hashesOf(nodes...), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, deleted)
	assert.Equal(t, 4, nodeCount(t, kv))
}

func TestSweepExpired_FailedBatch(t *testing.T) {
	mem := newKV(t)
	nodes := leaves("dead", 4)
	putLegacy(t, mem, nodes...)

	kv := &faultyStore{Store: mem}
	kv.failWhen(failAfter("delete", store.ColNodes, 3))

	deleted, err := NewSweepExpired(kv, newFilter(), WithBatchSize(2)).Sweep(t.Context(), hashesOf(nodes...), 0)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, 2, deleted, "first batch committed")
	assert.Equal(t, 2, nodeCount(t, mem), "second batch rolled back")
}
