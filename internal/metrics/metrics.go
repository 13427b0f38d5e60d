// Package metrics defines the Prometheus collectors exported by the gateway.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Fetch routes
const (
	RouteSameOrigin  = "same_origin"
	RouteCrossOrigin = "cross_origin"
	RoutePassthrough = "passthrough"
)

// Fetch outcomes
const (
	OutcomeCacheHit      = "cache_hit"
	OutcomeNetwork       = "network"
	OutcomeUncached      = "network_uncached"
	OutcomeCacheFallback = "cache_fallback"
	OutcomeOfflinePage   = "offline_page"
	OutcomeError         = "error"
)

// Update check results
const (
	CheckUnchanged = "unchanged"
	CheckChanged   = "changed"
	CheckFailed    = "failed"
)

// Metrics groups the collectors; a nil *Metrics is never passed around, use
// New(nil) for an unregistered set.
type Metrics struct {
	Fetches           *prometheus.CounterVec
	CacheWrites       *prometheus.CounterVec
	PrecacheFailures  prometheus.Counter
	PartitionsDeleted prometheus.Counter
	UpdateChecks      *prometheus.CounterVec
	Broadcasts        prometheus.Counter
	Notifications     prometheus.Counter
	Clients           prometheus.Gauge
}

// New builds the collectors and registers them with reg when reg is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "fetches_total",
			Help:      "Intercepted fetches by route and outcome.",
		}, []string{"route", "outcome"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "cache_writes_total",
			Help:      "Background cache writes by partition role and result.",
		}, []string{"role", "result"}),
		PrecacheFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "precache_failures_total",
			Help:      "Static assets that could not be precached during install.",
		}),
		PartitionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "partitions_deleted_total",
			Help:      "Stale cache partitions removed during activation.",
		}),
		UpdateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "update_checks_total",
			Help:      "Version descriptor checks by result.",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "update_broadcasts_total",
			Help:      "UPDATE_AVAILABLE messages delivered to clients.",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "notifications_total",
			Help:      "Notifications shown in response to push events.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bukudoa",
			Subsystem: "sw",
			Name:      "clients",
			Help:      "Open client connections.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Fetches,
			m.CacheWrites,
			m.PrecacheFailures,
			m.PartitionsDeleted,
			m.UpdateChecks,
			m.Broadcasts,
			m.Notifications,
			m.Clients,
		)
	}
	return m
}
