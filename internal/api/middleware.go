// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/stayward/channelsync/internal/metrics"
)

// requestMetrics records Prometheus counters and timings for every request.
// The route label uses the chi route pattern, not the raw path, so that
// /api/v1/events/{id}/retry stays one series regardless of the event ID.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.APIActiveRequests.Inc()
		defer metrics.APIActiveRequests.Dec()

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
