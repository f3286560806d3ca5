package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_published_total",
		Help: "Events published to the realtime transport, by event type.",
	}, []string{"type"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_publish_failures_total",
		Help: "Best-effort publish failures (non-fatal for the durable write).",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_dropped_total",
		Help: "Inbound push events dropped by schema validation.",
	}, []string{"reason"})

	OverlaySize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "messenger_overlay_entries",
		Help: "Current reconciliation overlay size, by overlay kind.",
	}, []string{"kind"})

	OverlayEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_overlay_evictions_total",
		Help: "Overlay entries evicted, by cause (ttl or capacity).",
	}, []string{"cause"})
)
