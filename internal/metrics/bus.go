// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events accepted by the bus per type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_events_published_total",
		Help: "Total events assigned a sequence number, by type",
	}, []string{"type"})

	// EventSubscribers tracks the number of connected event subscribers.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camcore_event_subscribers",
		Help: "Number of connected event subscribers",
	})

	// EventDrops counts subscriber disconnects due to failed delivery.
	EventDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_event_drops_total",
		Help: "Total subscriber disconnects by reason",
	}, []string{"reason"})

	// ResyncRequests counts catch-up requests by outcome.
	ResyncRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_event_resync_total",
		Help: "Total resync requests by outcome (replayed / snapshot_only)",
	}, []string{"outcome"})
)

// IncEventPublished records one published event.
func IncEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// IncEventDrop records one subscriber drop.
func IncEventDrop(reason string) {
	EventDrops.WithLabelValues(reason).Inc()
}

// IncResync records one resync outcome.
func IncResync(outcome string) {
	ResyncRequests.WithLabelValues(outcome).Inc()
}
