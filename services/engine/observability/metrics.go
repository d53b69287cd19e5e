// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the engine.
//
// # Description
//
// Metrics cover the job lifecycle (started/finished counters, queue and
// running gauges) and per-node execution latency. They are exposed on the
// /metrics endpoint for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "loom"

const engineSubsystem = "engine"

// EngineMetrics holds all Prometheus metrics for workflow execution.
//
// Initialize once at startup via InitMetrics(). A nil *EngineMetrics is
// valid and records nothing, which keeps tests free of duplicate
// registration panics.
type EngineMetrics struct {
	// JobsStartedTotal counts jobs that began executing.
	JobsStartedTotal prometheus.Counter

	// JobsFinishedTotal counts finished jobs by final status.
	// Labels: status (Succeeded, Failed)
	JobsFinishedTotal *prometheus.CounterVec

	// QueueRejectionsTotal counts jobs rejected at admission.
	// Labels: reason (queue_full, workflow_busy)
	QueueRejectionsTotal *prometheus.CounterVec

	// QueueDepth tracks jobs waiting in the pending queue.
	QueueDepth prometheus.Gauge

	// RunningJobs tracks jobs currently executing.
	RunningJobs prometheus.Gauge

	// NodeDurationSeconds measures single-node execution latency.
	// Labels: node_type, status (Succeeded, Failed)
	NodeDurationSeconds *prometheus.HistogramVec

	// LLMRequestsTotal counts upstream LLM calls.
	// Labels: model, status (success, error)
	LLMRequestsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all engine metrics on the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		JobsStartedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "jobs_started_total",
			Help:      "Total number of jobs that began executing",
		}),

		JobsFinishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "jobs_finished_total",
				Help:      "Total number of finished jobs by final status",
			},
			[]string{"status"},
		),

		QueueRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "queue_rejections_total",
				Help:      "Total jobs rejected at queue admission",
			},
			[]string{"reason"},
		),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "queue_depth",
			Help:      "Jobs currently waiting in the pending queue",
		}),

		RunningJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "running_jobs",
			Help:      "Jobs currently executing",
		}),

		NodeDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "node_duration_seconds",
				Help:      "Single-node execution latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"node_type", "status"},
		),

		LLMRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "llm_requests_total",
				Help:      "Upstream LLM calls by model and outcome",
			},
			[]string{"model", "status"},
		),
	}
	return DefaultMetrics
}

// JobStarted records a job entering execution.
func (m *EngineMetrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsStartedTotal.Inc()
	m.RunningJobs.Inc()
}

// JobFinished records a job leaving execution with its final status.
func (m *EngineMetrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsFinishedTotal.WithLabelValues(status).Inc()
	m.RunningJobs.Dec()
}

// QueueRejected records an admission rejection.
func (m *EngineMetrics) QueueRejected(reason string) {
	if m == nil {
		return
	}
	m.QueueRejectionsTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth publishes the current pending-queue length.
func (m *EngineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// ObserveNode records one node execution.
func (m *EngineMetrics) ObserveNode(nodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.NodeDurationSeconds.WithLabelValues(nodeType, status).Observe(d.Seconds())
}

// LLMRequest records one upstream LLM call.
func (m *EngineMetrics) LLMRequest(model, status string) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(model, status).Inc()
}
