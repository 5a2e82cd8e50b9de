package badger_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/store/badger"
	"github.com/marmos91/stategc/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		s, err := badger.OpenWithDefaults(t.Context(), filepath.Join(t.TempDir(), "state.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestConformanceInMemory(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		s, err := badger.Open(t.Context(), badger.Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := badger.Open(t.Context(), badger.Config{})
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := badger.OpenWithDefaults(t.Context(), path)
	require.NoError(t, err)
	err = s.Update(t.Context(), func(txn store.Txn) error {
		return txn.Set(store.ColNodes, []byte("h"), []byte("node"))
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = badger.OpenWithDefaults(t.Context(), path)
	require.NoError(t, err)
	defer s.Close()

	err = s.View(t.Context(), func(r store.Reader) error {
		v, err := r.Get(store.ColNodes, []byte("h"))
		require.NoError(t, err)
		assert.Equal(t, []byte("node"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := badger.Open(t.Context(), badger.Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
