package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerRoots(t *testing.T, ri *RootIndex, now time.Time, ages ...time.Duration) []Root {
	t.Helper()
	roots := make([]Root, len(ages))
	for i, age := range ages {
		roots[i] = Root{Hash: hashOf(byte(0xF0 - i)), Order: uint64(i + 1), CommittedAt: now.Add(-age)}
		require.NoError(t, ri.Register(t.Context(), roots[i]))
	}
	return roots
}

func TestRootIndex_RegisterAndGet(t *testing.T) {
	ri := NewRootIndex(newKV(t))
	now := time.Now().Truncate(time.Second)
	roots := registerRoots(t, ri, now, 0)

	got, err := ri.Get(t.Context(), roots[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, roots[0].Order, got.Order)
	assert.True(t, roots[0].CommittedAt.Equal(got.CommittedAt))

	_, err = ri.Get(t.Context(), hashOf(1))
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestRootIndex_LatestIsOrderedByOrder(t *testing.T) {
	ri := NewRootIndex(newKV(t))
	now := time.Now()
	// Hashes descend while orders ascend, so byte order of hashes is no help.
	roots := registerRoots(t, ri, now, 3*time.Hour, 2*time.Hour, time.Hour)

	latest, err := ri.Latest(t.Context(), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 2}, []uint64{latest[0].Order, latest[1].Order})

	all, err := ri.Latest(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, all, len(roots))
}

func TestRootIndex_ReRegisterMovesOrder(t *testing.T) {
	ri := NewRootIndex(newKV(t))
	now := time.Now()
	roots := registerRoots(t, ri, now, time.Hour, 0)

	moved := roots[0]
	moved.Order = 10
	require.NoError(t, ri.Register(t.Context(), moved))

	latest, err := ri.Latest(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, moved.Hash, latest[0].Hash)

	n, err := ri.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRootIndex_Remove(t *testing.T) {
	ri := NewRootIndex(newKV(t))
	roots := registerRoots(t, ri, time.Now(), time.Hour, 0)

	require.NoError(t, ri.Remove(t.Context(), roots[1].Hash))
	latest, err := ri.Latest(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, roots[0].Hash, latest[0].Hash)

	assert.ErrorIs(t, ri.Remove(t.Context(), roots[1].Hash), ErrRootNotFound)
}

func TestRootIndex_ProtectedRoots(t *testing.T) {
	day := 24 * time.Hour
	now := time.Now()

	tests := []struct {
		name       string
		count      int
		windowDays int
		want       []uint64
	}{
		{name: "newest only", count: 1, windowDays: 0, want: []uint64{4}},
		{name: "newest two", count: 2, windowDays: 0, want: []uint64{4, 3}},
		{name: "count plus window", count: 1, windowDays: 3, want: []uint64{4, 3, 2}},
		{name: "window only", count: 0, windowDays: 3, want: []uint64{4, 3, 2}},
		{name: "count covers window", count: 4, windowDays: 1, want: []uint64{4, 3, 2, 1}},
		{name: "nothing", count: 0, windowDays: 0, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ri := NewRootIndex(newKV(t))
			registerRoots(t, ri, now, 10*day, 2*day, day, 0)

			got, err := ri.ProtectedRoots(t.Context(), tt.count, tt.windowDays, now)
			require.NoError(t, err)

			var orders []uint64
			for _, r := range got {
				orders = append(orders, r.Order)
			}
			assert.Equal(t, tt.want, orders)
		})
	}
}

func TestMinOrder(t *testing.T) {
	_, ok := MinOrder(nil)
	assert.False(t, ok)

	min, ok := MinOrder([]Root{{Order: 5}, {Order: 2}, {Order: 9}})
	assert.True(t, ok)
	assert.Equal(t, uint64(2), min)
}
