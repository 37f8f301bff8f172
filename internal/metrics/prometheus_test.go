package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"fxdesk/internal/signal"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New("")
	r.ObserveEngineCall("http", "success", 2*time.Second)
	r.ObserveEngineCall("http", "success", time.Second)
	r.ObserveEngineCall("process", "timeout", time.Second)
	r.ObserveAnalysis("applied", 3*time.Second)
	r.ObserveDisposition(signal.ByAuto, signal.StateApproved)
	r.SetGauges(4, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.engineCalls.WithLabelValues("http", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.engineCalls.WithLabelValues("process", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.analyses.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dispositions.WithLabelValues("auto", "approved")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.pending))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.open))
}

func TestRecorder_Handler(t *testing.T) {
	r := New("fxtest")
	r.SetGauges(1, 0)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fxtest_signals_pending 1")
	assert.Contains(t, string(body), "go_goroutines")
}
