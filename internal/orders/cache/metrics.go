package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "cache",
		Name:      "reconcile_repairs_total",
		Help:      "Active orders written back into the cache by the reconciler.",
	})
	reconcileEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "cache",
		Name:      "reconcile_evictions_total",
		Help:      "Terminal or vanished orders evicted by the reconciler.",
	})
	reconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "cache",
		Name:      "reconcile_failures_total",
		Help:      "Reconcile steps that failed and were skipped.",
	})
)
