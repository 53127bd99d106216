// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PROMETHEUS METRICS
// =============================================================================

var (
	// sendsTotal counts sends by outcome.
	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigchat_engine_sends_total",
		Help: "Total completion sends by outcome",
	}, []string{"outcome"})

	// framesTotal counts decoded frames by delta kind.
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigchat_engine_frames_total",
		Help: "Total stream frames decoded by delta kind",
	}, []string{"kind"})

	// frameErrorsTotal counts frames skipped because they failed to parse.
	frameErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rigchat_engine_frame_errors_total",
		Help: "Total malformed stream frames skipped",
	})

	// streamDuration tracks wall time from send to terminal state.
	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rigchat_engine_stream_duration_seconds",
		Help:    "Completion stream duration in seconds by outcome",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
	}, []string{"outcome"})

	// timeToFirstToken tracks latency until the first reasoning or content
	// fragment.
	timeToFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rigchat_engine_time_to_first_token_seconds",
		Help:    "Latency from send to first streamed token in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})

	// inFlight is 1 while a send is in progress.
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rigchat_engine_in_flight",
		Help: "Number of completion sends in progress",
	})
)

// outcome labels beyond the terminal state names.
const (
	outcomeBusy       = "busy"
	outcomeMissingKey = "missing_key"
)
