// Package metrics exposes Prometheus instrumentation for the room actors
// and connection layer, the structured alternative to the teacher's plain
// GetGlobalStats JSON handler (see DESIGN.md).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms tracks how many Room actors currently exist in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tabletop_active_rooms",
		Help: "Number of rooms currently materialized in the registry.",
	})

	// ActiveConnections tracks live websocket sockets across all rooms.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tabletop_active_connections",
		Help: "Number of websocket connections currently attached to a room.",
	})

	// EventsProcessed counts events applied by the room core, labeled by
	// type and outcome (applied, rejected, error).
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabletop_events_processed_total",
		Help: "Events handled by a room actor, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// AutosaveFlushes counts debounce-triggered saves, labeled by whether
	// the underlying store call succeeded.
	AutosaveFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabletop_autosave_flush_total",
		Help: "Autosave flush attempts, by result.",
	}, []string{"result"})

	// AutosaveFlushDuration measures how long SaveRoom calls take.
	AutosaveFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tabletop_autosave_flush_seconds",
		Help:    "Duration of autosave SaveRoom calls.",
		Buckets: prometheus.DefBuckets,
	})

	// RateLimitRejections counts per-socket rate-limit rejections by event type.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabletop_rate_limit_rejections_total",
		Help: "Events rejected by the per-socket rate limiter, by event type.",
	}, []string{"event_type"})
)
