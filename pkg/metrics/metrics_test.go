package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/store/badger"
)

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "test_runs_total",
		Help:      "test counter",
	})
	reg.MustRegister(runs)
	runs.Add(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "stategc_test_runs_total 3")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServer_StopIsIdempotent(t *testing.T) {
	s := NewServer(0, NewRegistry())
	require.NoError(t, s.Stop(t.Context()))
	require.NoError(t, s.Stop(t.Context()))
}

func TestBadgerCollector(t *testing.T) {
	kv, err := badger.Open(t.Context(), badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	c := NewBadgerCollector(kv.DB())
	assert.Equal(t, 5, testutil.CollectAndCount(c))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	n, err := testutil.GatherAndCount(reg, "stategc_badger_lsm_size_bytes", "stategc_badger_block_cache_hit_ratio")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
