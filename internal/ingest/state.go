// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/media"
	"github.com/ManuGH/camcore/internal/probe"
)

// State is the observable lifecycle state of one ingest pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateNoSignal  State = "no_signal"
	StateError     State = "error"
)

// Status is the externally visible view of one camera's pipeline.
type Status struct {
	Camera    string             `json:"camera"`
	Device    string             `json:"device"`
	State     State              `json:"state"`
	Caps      probe.Capabilities `json:"caps"`
	StartedAt time.Time          `json:"started_at,omitempty"`
	Retries   int                `json:"retries,omitempty"`
	LastError string             `json:"last_error,omitempty"`

	// Recording sub-state, populated only for the in-pipeline variant.
	RecordingActive bool   `json:"recording_active,omitempty"`
	RecordingPath   string `json:"recording_path,omitempty"`
}

// handle is the supervisor's internal per-camera record. All fields are
// guarded by the supervisor lock; the graph itself is only driven with
// the lock released.
type handle struct {
	cam     config.Camera
	state   State
	desired bool

	// epoch invalidates in-flight starts, message pumps and retry timers
	// after a teardown. Every teardown bumps it.
	epoch uint64

	graph     media.Graph
	caps      probe.Capabilities // negotiated mode while streaming
	startedAt time.Time
	retries   int
	lastErr   string

	// signal is the last capability set announced on the bus, used to
	// collapse repeated probe results into single edges.
	signal      probe.Capabilities
	signalKnown bool

	// Valve-variant recording sub-state. A file branch can be used once
	// per graph build; reuse forces a rebuild with a fresh path.
	builtPath       string
	pendingPath     string
	valveUsed       bool
	recordingActive bool
	recordingPath   string
	recordingStart  time.Time

	// errLimiter throttles pipeline.error bus events during crash loops.
	errLimiter *rate.Limiter
}

// dropRecordingLocked clears an open in-pipeline recording and returns
// its path, or "" when none was open. The caller reports the loss after
// releasing the supervisor lock.
func (h *handle) dropRecordingLocked() string {
	if !h.recordingActive {
		return ""
	}
	h.recordingActive = false
	path := h.recordingPath
	h.recordingPath = ""
	return path
}

func (h *handle) status() Status {
	st := Status{
		Camera:    h.cam.ID,
		Device:    h.cam.Device,
		State:     h.state,
		Retries:   h.retries,
		LastError: h.lastErr,
	}
	if h.state == StateStreaming {
		st.Caps = h.caps
		st.StartedAt = h.startedAt
		st.RecordingActive = h.recordingActive
		if h.recordingActive {
			st.RecordingPath = h.recordingPath
		}
	}
	return st
}
