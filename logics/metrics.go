// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ModePersonalized = "personalized"
	ModeCategory     = "category"
	ModeColdStart    = "cold_start"
	ModeSimilar      = "similar"
)

var (
	InteractionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goryl",
		Subsystem: "recorder",
		Name:      "interactions_recorded_total",
	}, []string{"type"})
	AnonymousInteractions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goryl",
		Subsystem: "recorder",
		Name:      "anonymous_interactions_total",
	})
	RecordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goryl",
		Subsystem: "recorder",
		Name:      "record_failures_total",
	})
	SideChannelFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goryl",
		Subsystem: "recorder",
		Name:      "side_channel_failures_total",
	})
	StaleAggregatesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goryl",
		Subsystem: "aggregator",
		Name:      "stale_aggregates_served_total",
	}, []string{"kind"})
	AggregateComputeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "goryl",
		Subsystem: "aggregator",
		Name:      "compute_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"kind"})
	RecommendSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "goryl",
		Subsystem: "retriever",
		Name:      "recommend_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"mode"})
	SignalFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goryl",
		Subsystem: "retriever",
		Name:      "signal_fallbacks_total",
	})
	CandidatesScored = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "goryl",
		Subsystem: "retriever",
		Name:      "candidates_scored",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
	})
)
