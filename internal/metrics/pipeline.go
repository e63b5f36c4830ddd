// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineState tracks the observable state of each ingest pipeline.
	// Exactly one state label per camera carries the value 1.
	PipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camcore_pipeline_state",
		Help: "Current ingest pipeline state per camera (1 = active state)",
	}, []string{"camera", "state"})

	// PipelineStartDuration tracks the time from start request to running confirmation.
	PipelineStartDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camcore_pipeline_start_duration_seconds",
		Help:    "Time from pipeline start request to running confirmation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"camera"})

	// PipelineRetries counts supervisor retry attempts per camera and reason.
	PipelineRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_pipeline_retries_total",
		Help: "Total supervisor retry attempts",
	}, []string{"camera", "reason"})

	// PipelineErrors counts terminal pipeline errors.
	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_pipeline_errors_total",
		Help: "Total pipeline errors by kind",
	}, []string{"camera", "kind"})

	// SignalTransitions counts observed signal edges per camera.
	SignalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_signal_transitions_total",
		Help: "Total input signal transitions (gained/lost/resolution)",
	}, []string{"camera", "edge"})
)

var pipelineStates = []string{"idle", "starting", "streaming", "no_signal", "error"}

// SetPipelineState records a state transition, clearing the previous state gauge.
func SetPipelineState(camera, state string) {
	for _, s := range pipelineStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		PipelineState.WithLabelValues(camera, s).Set(v)
	}
}

// ObservePipelineStart records time-to-running for a camera.
func ObservePipelineStart(camera string, d time.Duration) {
	PipelineStartDuration.WithLabelValues(camera).Observe(d.Seconds())
}

// IncPipelineRetry records one scheduled retry.
func IncPipelineRetry(camera, reason string) {
	PipelineRetries.WithLabelValues(camera, reason).Inc()
}

// IncPipelineError records one pipeline error by kind.
func IncPipelineError(camera, kind string) {
	PipelineErrors.WithLabelValues(camera, kind).Inc()
}

// IncSignalTransition records a signal edge ("gained", "lost", "resolution").
func IncSignalTransition(camera, edge string) {
	SignalTransitions.WithLabelValues(camera, edge).Inc()
}
