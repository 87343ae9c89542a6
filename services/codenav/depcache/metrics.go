// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depcache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
)

// Request outcomes.
const (
	outcomeHit    = "hit"
	outcomeJoined = "joined"
	outcomeMiss   = "miss"
	outcomeRetry  = "retry"
	outcomeClosed = "closed"
)

var (
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codenav",
		Subsystem: "depcache",
		Name:      "requests_total",
		Help:      "Dependency cache requests by outcome",
	}, []string{"outcome"})

	cacheFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codenav",
		Subsystem: "depcache",
		Name:      "fetches_total",
		Help:      "Dependency fetches by result",
	}, []string{"result"})

	cacheFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codenav",
		Subsystem: "depcache",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of dependency fetches",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
	})
)

func recordRequest(outcome string) {
	cacheRequestsTotal.WithLabelValues(outcome).Inc()
}

func recordFetch(d time.Duration, err error) {
	result := "ready"
	if err != nil {
		result = "failed"
	}
	cacheFetchesTotal.WithLabelValues(result).Inc()
	cacheFetchDuration.Observe(d.Seconds())
}

// contextWithSpanOf returns ctx carrying the span context found in from, so
// a span started on the result is parented to the requester's trace while
// keeping ctx's deadline and cancellation.
func contextWithSpanOf(ctx, from context.Context) context.Context {
	if from == nil {
		return ctx
	}
	sc := trace.SpanContextFromContext(from)
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}
