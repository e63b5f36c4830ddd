// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events implements the broadcast bus that delivers state-change
// events to connected clients with ordering, replay and catch-up
// guarantees. Sequence numbers are assigned at enqueue time by a single
// monotonic counter; the replay buffer retains the most recent N events
// for subscriber catch-up.
package events

import "time"

// SchemaVersion is the wire envelope version. Bump only on breaking changes.
const SchemaVersion = 1

// Type identifies an event on the wire. Keep these stable: clients and
// metrics depend on them.
type Type string

const (
	TypeConnected     Type = "connected"
	TypeHeartbeat     Type = "heartbeat"
	TypeError         Type = "error"
	TypeSyncResponse  Type = "sync_response"
	TypeModeChanged   Type = "mode.changed"
	TypeRecStarted    Type = "recorder.started"
	TypeRecStopped    Type = "recorder.stopped"
	TypeRecProgress   Type = "recorder.progress"
	TypePreviewStart  Type = "preview.started"
	TypePreviewStop   Type = "preview.stopped"
	TypePipelineError Type = "pipeline.error"
	TypeSignalChanged Type = "input.signal_changed"
)

// Event is the immutable wire envelope. Once a sequence number is
// assigned the event never changes.
type Event struct {
	V        int       `json:"v"`
	Type     Type      `json:"type"`
	Seq      uint64    `json:"seq"`
	TS       time.Time `json:"ts"`
	DeviceID string    `json:"device_id,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// SignalPayload describes an input signal edge.
type SignalPayload struct {
	HasSignal bool `json:"has_signal"`
	Width     int  `json:"width,omitempty"`
	Height    int  `json:"height,omitempty"`
	Framerate int  `json:"framerate,omitempty"`
}

// ModePayload carries the new operating mode ("idle" or "recording").
type ModePayload struct {
	Mode string `json:"mode"`
}

// PreviewPayload carries the preview pipeline state for a camera.
type PreviewPayload struct {
	State string `json:"state"`
}

// RecorderStartedPayload announces one recording within a session.
type RecorderStartedPayload struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

// RecorderProgressPayload reports observed file growth.
type RecorderProgressPayload struct {
	SessionID string `json:"session_id"`
	Bytes     int64  `json:"bytes"`
	Stalled   bool   `json:"stalled,omitempty"`
}

// RecorderStoppedPayload reports the terminal outcome of one recording.
type RecorderStoppedPayload struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"` // "stopped" or "error"
	Error     string `json:"error,omitempty"`
	Bytes     int64  `json:"bytes"`
}

// ErrorPayload carries a stable error kind plus a human-readable message.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SyncPayload answers a subscriber catch-up request. When CanReplay is
// false the subscriber must discard local state and adopt the snapshot.
type SyncPayload struct {
	CanReplay bool     `json:"can_replay"`
	Events    []Event  `json:"events,omitempty"`
	Snapshot  Snapshot `json:"snapshot"`
}
