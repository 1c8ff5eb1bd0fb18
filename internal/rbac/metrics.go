package rbac

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for authorization decisions and the
// decision cache.
type Metrics struct {
	decisions     *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	graphWalks    *prometheus.HistogramVec
	invalidations *prometheus.CounterVec
}

// NewMetrics registers the collectors. A nil registerer uses the default
// Prometheus registerer; collectors already registered are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_rbac_decisions_total",
			Help: "Authorization decisions partitioned by outcome and reason.",
		}, []string{"result", "reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_rbac_cache_lookups_total",
			Help: "Decision cache lookups partitioned by check kind and result.",
		}, []string{"kind", "result"}),
		graphWalks: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_rbac_graph_walk_duration_seconds",
			Help:    "Duration of assignment graph walks on cache miss.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_rbac_cache_invalidations_total",
			Help: "Decision cache invalidations partitioned by scope and status.",
		}, []string{"scope", "status"}),
	}
	m.decisions = register(reg, m.decisions)
	m.cacheLookups = register(reg, m.cacheLookups)
	m.graphWalks = register(reg, m.graphWalks)
	m.invalidations = register(reg, m.invalidations)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observeDecision(d Decision) {
	if m == nil {
		return
	}
	result := "deny"
	if d.Allow {
		result = "allow"
	}
	m.decisions.WithLabelValues(result, string(d.Reason)).Inc()
}

func (m *Metrics) cacheResult(kind CheckKind, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) observeWalk(kind CheckKind, start time.Time) {
	if m == nil {
		return
	}
	m.graphWalks.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeInvalidation(scope string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.invalidations.WithLabelValues(scope, status).Inc()
}
