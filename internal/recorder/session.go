// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ManuGH/camcore/internal/media"
	"github.com/ManuGH/camcore/internal/recorder/store"
)

// RecordingInfo is the externally visible view of one recording.
type RecordingInfo struct {
	Camera    string    `json:"camera"`
	Path      string    `json:"path"`
	State     string    `json:"state"` // "recording", "stopped", "error"
	Bytes     int64     `json:"bytes"`
	Stalled   bool      `json:"stalled,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
}

// SessionInfo is the externally visible view of a session.
type SessionInfo struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	State          string          `json:"state"` // "recording", "stopping", "stopped"
	StartedAt      time.Time       `json:"started_at"`
	StoppedAt      time.Time       `json:"stopped_at,omitzero"`
	Recordings     []RecordingInfo `json:"recordings"`

	// Replayed marks an idempotent start that returned the already
	// running session instead of creating a new one.
	Replayed bool `json:"replayed,omitempty"`
}

// recording is the manager's internal per-camera record. Guarded by the
// manager lock; the graph is only driven with the lock released.
type recording struct {
	camera    string
	path      string
	state     string
	bytes     int64
	stalled   bool
	strikes   int
	errMsg    string
	startedAt time.Time
	stoppedAt time.Time
	checkedAt time.Time

	// graph is set for the subscriber variant; the valve variant records
	// inside the ingest pipeline instead.
	graph media.Graph
}

type session struct {
	id        string
	key       string
	state     string
	startedAt time.Time
	stoppedAt time.Time
	order     []string
	recs      map[string]*recording
}

func (s *session) info() SessionInfo {
	out := SessionInfo{
		ID:             s.id,
		IdempotencyKey: s.key,
		State:          s.state,
		StartedAt:      s.startedAt,
		StoppedAt:      s.stoppedAt,
		Recordings:     make([]RecordingInfo, 0, len(s.order)),
	}
	for _, cam := range s.order {
		r := s.recs[cam]
		out.Recordings = append(out.Recordings, RecordingInfo{
			Camera:    r.camera,
			Path:      r.path,
			State:     r.state,
			Bytes:     r.bytes,
			Stalled:   r.stalled,
			Error:     r.errMsg,
			StartedAt: r.startedAt,
			StoppedAt: r.stoppedAt,
		})
	}
	return out
}

func (s *session) record() store.SessionRecord {
	rec := store.SessionRecord{
		ID:             s.id,
		IdempotencyKey: s.key,
		State:          s.state,
		StartedAt:      s.startedAt,
		StoppedAt:      s.stoppedAt,
	}
	for _, cam := range s.order {
		r := s.recs[cam]
		rec.Recordings = append(rec.Recordings, store.RecordingRecord{
			Camera:    r.camera,
			Path:      r.path,
			State:     r.state,
			Bytes:     r.bytes,
			Error:     r.errMsg,
			StartedAt: r.startedAt,
			StoppedAt: r.stoppedAt,
		})
	}
	return rec
}

// sessionID derives the identifier: the caller's idempotency key when
// present, otherwise a UTC timestamp name.
func sessionID(key string, now time.Time) string {
	if key != "" {
		return key
	}
	return "session_" + now.UTC().Format("20060102_150405")
}

// recordingPath builds <root>/<session>_<camera>_<timestamp>.mp4.
func recordingPath(root, sessionID, camera string, now time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.mp4", sessionID, camera, now.UTC().Format("20060102_150405"))
	return filepath.Join(root, name)
}
