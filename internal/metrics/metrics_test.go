package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/internal/metrics"
)

func TestMetrics_CountersAndExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Entry("AAA", 1)
	m.Entry("AAA", 1)
	m.Exit("AAA", "stop_loss")
	m.SetBudget(1250)
	m.SetPending(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "splitbot_cycle_seconds")
	assert.NotContains(t, names, "splitbot_reconcile_total", "vectors without samples are not gathered")

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `splitbot_entries_total{code="AAA",slot="1"} 2`)
	assert.Contains(t, body, `splitbot_exits_total{code="AAA",reason="stop_loss"} 1`)
	assert.Contains(t, body, "splitbot_budget 1250")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Entry("AAA", 1)
		m.Error("transient_api")
		m.ObserveCycle(0.5)
	})
}
