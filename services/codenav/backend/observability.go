// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// backendTracerName is the OTel tracer name for backend REST calls.
const backendTracerName = "codenav.backend"

// Package-level Prometheus metrics for backend calls.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// backendCallDuration measures the duration of backend REST calls.
	//
	// Labels:
	//   - op: "ingest", "file_content", "parse", "metadata", "dependencies"
	//   - status: "success", "not_found", "transport", "ingest"
	backendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codenav",
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of analysis backend calls in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"op", "status"},
	)

	// backendCallsTotal counts backend REST calls.
	//
	// Labels:
	//   - op: see backendCallDuration
	//   - status: see backendCallDuration
	backendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codenav",
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Total number of analysis backend calls.",
		},
		[]string{"op", "status"},
	)
)

// callStatus maps an operation result to a label-safe status value.
func callStatus(err error) string {
	if err == nil {
		return "success"
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind.String()
	}
	return "transport"
}

// recordCallMetrics records duration and count for one backend call.
//
// Thread Safety: Safe for concurrent use.
func recordCallMetrics(op string, duration time.Duration, err error) {
	status := callStatus(err)
	backendCallDuration.WithLabelValues(op, status).Observe(duration.Seconds())
	backendCallsTotal.WithLabelValues(op, status).Inc()
}
