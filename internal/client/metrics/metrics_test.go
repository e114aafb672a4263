package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRequest("GET", 200)
	c.ObserveRequest("GET", 200)
	c.ObserveRequest("POST", 500)
	c.ObserveFetch(StrategyDelta, OutcomeFallback)
	c.ObservePush(3, 1)
	c.ObserveCheckpointReset("stale")

	assert.Equal(t, 2.0, counterValue(t, reg, "synckit_client_requests_total", map[string]string{"method": "GET", "code": "200"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "synckit_client_requests_total", map[string]string{"method": "POST", "code": "500"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "synckit_client_fetches_total", map[string]string{"strategy": "delta", "outcome": "fallback"}))
	assert.Equal(t, 3.0, counterValue(t, reg, "synckit_client_pushed_operations_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "synckit_client_push_failures_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "synckit_client_checkpoint_resets_total", map[string]string{"reason": "stale"}))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRequest("GET", 200)
		c.ObserveFetch(StrategyFull, OutcomeOK)
		c.ObservePush(1, 0)
		c.ObserveCheckpointReset("purge")
	})
}
