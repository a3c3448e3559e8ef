package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	draftsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "intake",
		Name:      "drafts_accepted_total",
		Help:      "Order drafts accepted into the intake queue.",
	})
	draftsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "intake",
		Name:      "drafts_flushed_total",
		Help:      "Order drafts persisted and forwarded to the matching engine.",
	})
	draftsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "intake",
		Name:      "drafts_dropped_total",
		Help:      "Order drafts dropped after a persistence failure.",
	})
	commandsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "intake",
		Name:      "commands_published_total",
		Help:      "Place commands published to the matching engine.",
	})
	backpressureWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Subsystem: "intake",
		Name:      "backpressure_waits_total",
		Help:      "Enqueue attempts delayed because the queue was full.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orderdesk",
		Subsystem: "intake",
		Name:      "queue_depth",
		Help:      "Current intake queue depth.",
	})
)
