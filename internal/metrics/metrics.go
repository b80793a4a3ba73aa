// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus collectors for pipeline-run execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsStarted tracks pipeline runs picked up by the engine
	runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrich_pipeline_runs_started_total",
			Help: "Total pipeline runs started",
		},
	)

	// runsCompleted tracks terminal run outcomes
	runsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_pipeline_runs_completed_total",
			Help: "Total pipeline runs completed by terminal status",
		},
		[]string{"status"},
	)

	// stepOutcomes tracks per-step terminal statuses
	stepOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_steps_total",
			Help: "Total step outcomes by operation id and status",
		},
		[]string{"operation_id", "status"},
	)

	// stepDuration observes wall-clock step execution time
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrich_step_duration_seconds",
			Help:    "Step execution duration by operation id",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 10),
		},
		[]string{"operation_id"},
	)

	// pollAttempts tracks deep-research poll iterations
	pollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_deep_research_poll_attempts_total",
			Help: "Total deep-research poll attempts by operation id",
		},
		[]string{"operation_id"},
	)

	// fanOutChildren tracks child runs created by fan-out steps
	fanOutChildren = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_fan_out_children_total",
			Help: "Total child runs created by fan-out operation id",
		},
		[]string{"operation_id"},
	)

	// bestEffortFailures tracks suppressed timeline / auxiliary-store errors
	bestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_best_effort_write_failures_total",
			Help: "Total suppressed best-effort write failures by target",
		},
		[]string{"target"},
	)
)

// RecordRunStarted increments the started-runs counter.
func RecordRunStarted() {
	runsStarted.Inc()
}

// RecordRunCompleted increments the completed-runs counter.
func RecordRunCompleted(status string) {
	runsCompleted.WithLabelValues(status).Inc()
}

// RecordStep records a step's terminal status and duration.
func RecordStep(operationID, status string, duration time.Duration) {
	stepOutcomes.WithLabelValues(operationID, status).Inc()
	stepDuration.WithLabelValues(operationID).Observe(duration.Seconds())
}

// RecordPollAttempt increments the deep-research poll counter.
func RecordPollAttempt(operationID string) {
	pollAttempts.WithLabelValues(operationID).Inc()
}

// RecordFanOut adds the number of child runs created by a fan-out step.
func RecordFanOut(operationID string, children int) {
	fanOutChildren.WithLabelValues(operationID).Add(float64(children))
}

// RecordBestEffortFailure counts a suppressed timeline or auxiliary-store
// write failure.
func RecordBestEffortFailure(target string) {
	bestEffortFailures.WithLabelValues(target).Inc()
}
