// Package metrics exposes prometheus counters for sync activity. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "synckit"
	subsystem = "client"
)

// Fetch strategies and outcomes.
const (
	StrategyDelta     = "delta"
	StrategyFull      = "full"
	StrategyPaginated = "paginated"

	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

type Collector struct {
	requests         *prometheus.CounterVec
	fetches          *prometheus.CounterVec
	pushed           prometheus.Counter
	pushFailed       prometheus.Counter
	checkpointResets *prometheus.CounterVec
}

// NewCollector registers the counters on reg. Passing
// prometheus.DefaultRegisterer exposes them process-wide.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Backend requests by method and status code (0 when no response).",
		}, []string{"method", "code"}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetches_total",
			Help:      "Pull fetches by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		pushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pushed_operations_total",
			Help:      "Pending operations acknowledged by the backend.",
		}),
		pushFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "push_failures_total",
			Help:      "Pending operations the backend rejected.",
		}),
		checkpointResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "checkpoint_resets_total",
			Help:      "Sync checkpoints discarded, by reason.",
		}, []string{"reason"}),
	}
}

func (c *Collector) ObserveRequest(method string, code int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (c *Collector) ObserveFetch(strategy, outcome string) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(strategy, outcome).Inc()
}

func (c *Collector) ObservePush(ok, failed int) {
	if c == nil {
		return
	}
	c.pushed.Add(float64(ok))
	c.pushFailed.Add(float64(failed))
}

func (c *Collector) ObserveCheckpointReset(reason string) {
	if c == nil {
		return
	}
	c.checkpointResets.WithLabelValues(reason).Inc()
}
