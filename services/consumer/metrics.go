// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts consumer activity.
type Metrics struct {
	EventsReceived     prometheus.Counter
	EventsProcessed    prometheus.Counter
	EventsSkipped      prometheus.Counter
	EventsFailed       prometheus.Counter
	Reconnects         prometheus.Counter
	GenerationFailures prometheus.Counter
}

// NewMetrics registers the consumer counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "comind", Subsystem: "consumer",
			Name: "events_received_total", Help: "Stream events received.",
		}),
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "comind", Subsystem: "consumer",
			Name: "events_processed_total", Help: "Events fully annotated and persisted.",
		}),
		EventsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "comind", Subsystem: "consumer",
			Name: "events_skipped_total", Help: "Events skipped (wrong kind or already processed).",
		}),
		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "comind", Subsystem: "consumer",
			Name: "events_failed_total", Help: "Events abandoned after a per-event error.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "comind", Subsystem: "consumer",
			Name: "reconnects_total", Help: "Stream reconnections, voluntary and forced.",
		}),
		GenerationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "comind", Subsystem: "consumer",
			Name: "generation_failures_total", Help: "Model outputs that failed to parse.",
		}),
	}
}
