// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRecordings tracks the number of recordings currently writing.
	ActiveRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camcore_active_recordings",
		Help: "Number of recordings currently writing to disk",
	})

	// RecordingBytes counts bytes observed on disk per camera.
	RecordingBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_recording_bytes_total",
		Help: "Total bytes written by recordings, as observed by the stall detector",
	}, []string{"camera"})

	// SessionStarts counts session start attempts by result.
	SessionStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_session_start_total",
		Help: "Total session start attempts by result",
	}, []string{"result"})

	// StallsDetected counts stall detections per camera.
	StallsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_recording_stalls_total",
		Help: "Total recording stall detections",
	}, []string{"camera"})

	// DiskFreeBytes tracks free space on the recordings filesystem.
	DiskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camcore_recordings_disk_free_bytes",
		Help: "Free bytes on the recordings filesystem",
	})
)

// IncSessionStart records a session start attempt outcome.
func IncSessionStart(result string) {
	SessionStarts.WithLabelValues(result).Inc()
}

// AddRecordingBytes records observed file growth for a camera.
func AddRecordingBytes(camera string, n int64) {
	if n > 0 {
		RecordingBytes.WithLabelValues(camera).Add(float64(n))
	}
}

// IncStall records one stall detection.
func IncStall(camera string) {
	StallsDetected.WithLabelValues(camera).Inc()
}

// SetDiskFree records the last observed free-space figure.
func SetDiskFree(free uint64) {
	DiskFreeBytes.Set(float64(free))
}
