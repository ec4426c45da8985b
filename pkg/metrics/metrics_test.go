package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodGet, "/api/rows/{row}/columns", http.StatusOK, 5*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/rows/{row}/columns", http.StatusOK, time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/rows/{row}/columns", http.StatusNotFound, time.Millisecond)
	m.ObservePage("r", 10, false)
	m.ObservePage("missing", 0, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/rows/{row}/columns", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/rows/{row}/columns", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("absent")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.columns))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObservePage("r", 3, false)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "widerow_columns_served_total 3")
}
