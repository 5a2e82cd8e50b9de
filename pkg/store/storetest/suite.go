package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/store"
)

// StoreFactory creates a fresh Store for each test. The factory may use
// t.TempDir() and t.Cleanup().
type StoreFactory func(t *testing.T) store.Store

// RunConformanceSuite runs every conformance test against factory.
//
// The suite covers:
//   - CRUD: get, set, has, delete, value isolation
//   - Txn: atomic commit, discard on error, read-your-writes
//   - Iterate: ordering, start keys, reverse, keys-only, early stop
//   - Lifecycle: compaction, cancellation, close
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("CRUD", func(t *testing.T) {
		runCRUDTests(t, factory)
	})

	t.Run("Txn", func(t *testing.T) {
		runTxnTests(t, factory)
	})

	t.Run("Iterate", func(t *testing.T) {
		runIterateTests(t, factory)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		runLifecycleTests(t, factory)
	})
}

// set writes a single key in its own transaction.
func set(t *testing.T, s store.Store, col store.Column, key, value string) {
	t.Helper()
	err := s.Update(t.Context(), func(txn store.Txn) error {
		return txn.Set(col, []byte(key), []byte(value))
	})
	require.NoError(t, err)
}

// get reads a single key, returning ErrNotFound as is.
func get(t *testing.T, s store.Store, col store.Column, key string) ([]byte, error) {
	t.Helper()
	var out []byte
	err := s.View(t.Context(), func(r store.Reader) error {
		v, err := r.Get(col, []byte(key))
		out = v
		return err
	})
	return out, err
}

// ============================================================================
// CRUD
// ============================================================================

func runCRUDTests(t *testing.T, factory StoreFactory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := factory(t)
		_, err := get(t, s, store.ColNodes, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SetThenGet", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "k", "v")

		v, err := get(t, s, store.ColNodes, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "k", "v1")
		set(t, s, store.ColNodes, "k", "v2")

		v, err := get(t, s, store.ColNodes, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColReachSeen, "k", "")

		err := s.View(t.Context(), func(r store.Reader) error {
			ok, err := r.Has(store.ColReachSeen, []byte("k"))
			require.NoError(t, err)
			assert.True(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Has", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "present", "x")

		err := s.View(t.Context(), func(r store.Reader) error {
			ok, err := r.Has(store.ColNodes, []byte("present"))
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = r.Has(store.ColNodes, []byte("absent"))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "k", "v")

		err := s.Update(t.Context(), func(txn store.Txn) error {
			return txn.Delete(store.ColNodes, []byte("k"))
		})
		require.NoError(t, err)

		_, err = get(t, s, store.ColNodes, "k")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		s := factory(t)
		err := s.Update(t.Context(), func(txn store.Txn) error {
			return txn.Delete(store.ColNodes, []byte("nothing"))
		})
		assert.NoError(t, err)
	})

	t.Run("ColumnsAreIsolated", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "k", "node")
		set(t, s, store.ColRefcounts, "k", "ref")

		v, err := get(t, s, store.ColNodes, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("node"), v)

		v, err = get(t, s, store.ColRefcounts, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("ref"), v)

		_, err = get(t, s, store.ColStale, "k")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ReturnedValueIsACopy", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "k", "abc")

		v, err := get(t, s, store.ColNodes, "k")
		require.NoError(t, err)
		v[0] = 'z'

		v, err = get(t, s, store.ColNodes, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), v)
	})

	t.Run("StoredValueIsACopy", func(t *testing.T) {
		s := factory(t)
		buf := []byte("abc")
		err := s.Update(t.Context(), func(txn store.Txn) error {
			return txn.Set(store.ColNodes, []byte("k"), buf)
		})
		require.NoError(t, err)
		buf[0] = 'z'

		v, err := get(t, s, store.ColNodes, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), v)
	})
}

// ============================================================================
// Transactions
// ============================================================================

func runTxnTests(t *testing.T, factory StoreFactory) {
	t.Run("CommitsAcrossColumns", func(t *testing.T) {
		s := factory(t)
		err := s.Update(t.Context(), func(txn store.Txn) error {
			if err := txn.Set(store.ColRefcounts, []byte("h"), []byte{0}); err != nil {
				return err
			}
			return txn.Set(store.ColStale, []byte("rh"), []byte("{}"))
		})
		require.NoError(t, err)

		_, err = get(t, s, store.ColRefcounts, "h")
		assert.NoError(t, err)
		_, err = get(t, s, store.ColStale, "rh")
		assert.NoError(t, err)
	})

	t.Run("DiscardOnError", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "keep", "v")

		boom := errors.New("boom")
		err := s.Update(t.Context(), func(txn store.Txn) error {
			if err := txn.Set(store.ColNodes, []byte("new"), []byte("x")); err != nil {
				return err
			}
			if err := txn.Delete(store.ColNodes, []byte("keep")); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = get(t, s, store.ColNodes, "new")
		assert.ErrorIs(t, err, store.ErrNotFound)
		v, err := get(t, s, store.ColNodes, "keep")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("ReadYourWrites", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "gone", "v")

		err := s.Update(t.Context(), func(txn store.Txn) error {
			require.NoError(t, txn.Set(store.ColNodes, []byte("k"), []byte("v")))
			v, err := txn.Get(store.ColNodes, []byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)

			require.NoError(t, txn.Delete(store.ColNodes, []byte("gone")))
			ok, err := txn.Has(store.ColNodes, []byte("gone"))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("IterateSeesPendingWrites", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColStale, "a", "1")
		set(t, s, store.ColStale, "c", "3")

		err := s.Update(t.Context(), func(txn store.Txn) error {
			require.NoError(t, txn.Set(store.ColStale, []byte("b"), []byte("2")))
			require.NoError(t, txn.Delete(store.ColStale, []byte("c")))

			var keys []string
			err := txn.Iterate(store.ColStale, store.IterOptions{}, func(k, _ []byte) (bool, error) {
				keys = append(keys, string(k))
				return true, nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, keys)
			return nil
		})
		require.NoError(t, err)
	})
}

// ============================================================================
// Iteration
// ============================================================================

func seedIterate(t *testing.T, s store.Store) {
	t.Helper()
	err := s.Update(t.Context(), func(txn store.Txn) error {
		for _, k := range []string{"b", "d", "a", "c", "e"} {
			if err := txn.Set(store.ColStale, []byte(k), []byte("v"+k)); err != nil {
				return err
			}
		}
		// Neighbouring columns must not leak into the walk.
		if err := txn.Set(store.ColRefcounts, []byte("z"), []byte("x")); err != nil {
			return err
		}
		return txn.Set(store.ColBirths, []byte("0"), []byte("x"))
	})
	require.NoError(t, err)
}

func collect(t *testing.T, s store.Store, opts store.IterOptions, limit int) ([]string, []string) {
	t.Helper()
	var keys, values []string
	err := s.View(t.Context(), func(r store.Reader) error {
		return r.Iterate(store.ColStale, opts, func(k, v []byte) (bool, error) {
			keys = append(keys, string(k))
			values = append(values, string(v))
			return limit <= 0 || len(keys) < limit, nil
		})
	})
	require.NoError(t, err)
	return keys, values
}

func runIterateTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name  string
		opts  store.IterOptions
		limit int
		want  []string
	}{
		{name: "Forward", want: []string{"a", "b", "c", "d", "e"}},
		{name: "ForwardFromStart", opts: store.IterOptions{Start: []byte("c")}, want: []string{"c", "d", "e"}},
		{name: "ForwardFromGap", opts: store.IterOptions{Start: []byte("bb")}, want: []string{"c", "d", "e"}},
		{name: "Reverse", opts: store.IterOptions{Reverse: true}, want: []string{"e", "d", "c", "b", "a"}},
		{name: "ReverseFromStart", opts: store.IterOptions{Reverse: true, Start: []byte("c")}, want: []string{"c", "b", "a"}},
		{name: "ReverseFromGap", opts: store.IterOptions{Reverse: true, Start: []byte("cc")}, want: []string{"c", "b", "a"}},
		{name: "EarlyStop", limit: 2, want: []string{"a", "b"}},
		{name: "PastEnd", opts: store.IterOptions{Start: []byte("f")}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			seedIterate(t, s)

			keys, values := collect(t, s, tt.opts, tt.limit)
			assert.Equal(t, tt.want, keys)
			for i, k := range keys {
				assert.Equal(t, "v"+k, values[i])
			}
		})
	}

	t.Run("KeysOnly", func(t *testing.T) {
		s := factory(t)
		seedIterate(t, s)

		keys, values := collect(t, s, store.IterOptions{KeysOnly: true}, 0)
		assert.Len(t, keys, 5)
		for _, v := range values {
			assert.Empty(t, v)
		}
	})

	t.Run("CallbackError", func(t *testing.T) {
		s := factory(t)
		seedIterate(t, s)

		boom := errors.New("boom")
		err := s.View(t.Context(), func(r store.Reader) error {
			return r.Iterate(store.ColStale, store.IterOptions{}, func(_, _ []byte) (bool, error) {
				return false, boom
			})
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Count", func(t *testing.T) {
		s := factory(t)
		seedIterate(t, s)

		n, err := store.Count(t.Context(), s, store.ColStale)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		n, err = store.Count(t.Context(), s, store.ColNodes)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// ============================================================================
// Lifecycle
// ============================================================================

func runLifecycleTests(t *testing.T, factory StoreFactory) {
	t.Run("CompactKeepsData", func(t *testing.T) {
		s := factory(t)
		set(t, s, store.ColNodes, "keep", "v")
		set(t, s, store.ColNodes, "drop", "v")
		err := s.Update(t.Context(), func(txn store.Txn) error {
			return txn.Delete(store.ColNodes, []byte("drop"))
		})
		require.NoError(t, err)

		require.NoError(t, s.Compact(t.Context()))

		_, err = get(t, s, store.ColNodes, "keep")
		assert.NoError(t, err)
		_, err = get(t, s, store.ColNodes, "drop")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := factory(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		called := false
		err := s.Update(ctx, func(store.Txn) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)

		err = s.View(ctx, func(store.Reader) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Closed", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.Close())

		err := s.View(t.Context(), func(store.Reader) error { return nil })
		assert.ErrorIs(t, err, store.ErrClosed)
		err = s.Update(t.Context(), func(store.Txn) error { return nil })
		assert.ErrorIs(t, err, store.ErrClosed)
		assert.ErrorIs(t, s.Compact(t.Context()), store.ErrClosed)
	})
}
