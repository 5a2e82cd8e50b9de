package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/store/memory"
	"github.com/marmos91/stategc/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		return memory.New()
	})
}

func TestCompactionCounter(t *testing.T) {
	s := memory.New()
	assert.Zero(t, s.Compactions())

	require.NoError(t, s.Compact(t.Context()))
	require.NoError(t, s.Compact(t.Context()))
	assert.Equal(t, int64(2), s.Compactions())
}
