// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import "time"

// InputState is the cached per-camera input view.
type InputState struct {
	HasSignal bool `json:"has_signal"`
	Width     int  `json:"width,omitempty"`
	Height    int  `json:"height,omitempty"`
	Framerate int  `json:"framerate,omitempty"`
}

// RecordingSummary is the cached view of one recording in the session.
type RecordingSummary struct {
	Path    string `json:"path"`
	State   string `json:"state"`
	Bytes   int64  `json:"bytes"`
	Stalled bool   `json:"stalled,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SessionSummary is the cached view of the active (or last) session.
type SessionSummary struct {
	ID         string                      `json:"id"`
	State      string                      `json:"state"`
	StartedAt  time.Time                   `json:"started_at"`
	Recordings map[string]RecordingSummary `json:"recordings"`
}

// Snapshot is the authoritative state delivered alongside replay events.
// Buffered events are deltas applied on top of it.
type Snapshot struct {
	Mode     string                `json:"mode"`
	Session  *SessionSummary       `json:"session,omitempty"`
	Inputs   map[string]InputState `json:"inputs"`
	Previews map[string]string     `json:"previews"`
	Seq      uint64                `json:"seq"` // sequence the snapshot is current as of
}

func newState() Snapshot {
	return Snapshot{
		Mode:     "idle",
		Inputs:   make(map[string]InputState),
		Previews: make(map[string]string),
	}
}

// clone returns a deep copy so a snapshot never aliases the live cache.
func (s Snapshot) clone() Snapshot {
	out := s
	out.Inputs = make(map[string]InputState, len(s.Inputs))
	for k, v := range s.Inputs {
		out.Inputs[k] = v
	}
	out.Previews = make(map[string]string, len(s.Previews))
	for k, v := range s.Previews {
		out.Previews[k] = v
	}
	if s.Session != nil {
		sess := *s.Session
		sess.Recordings = make(map[string]RecordingSummary, len(s.Session.Recordings))
		for k, v := range s.Session.Recordings {
			sess.Recordings[k] = v
		}
		out.Session = &sess
	}
	return out
}

// apply folds a state-mutating event into the cache. Called with the bus
// lock held, atomically with sequence assignment, so a snapshot never
// shows a partial view of the event currently being dispatched.
func (s *Snapshot) apply(ev Event) {
	s.Seq = ev.Seq
	switch ev.Type {
	case TypeModeChanged:
		if p, ok := ev.Payload.(ModePayload); ok {
			s.Mode = p.Mode
		}
	case TypeSignalChanged:
		if p, ok := ev.Payload.(SignalPayload); ok {
			s.Inputs[ev.DeviceID] = InputState{
				HasSignal: p.HasSignal,
				Width:     p.Width,
				Height:    p.Height,
				Framerate: p.Framerate,
			}
		}
	case TypePreviewStart:
		s.Previews[ev.DeviceID] = "streaming"
	case TypePreviewStop:
		s.Previews[ev.DeviceID] = "stopped"
	case TypeRecStarted:
		if p, ok := ev.Payload.(RecorderStartedPayload); ok {
			if s.Session == nil || s.Session.ID != p.SessionID {
				s.Session = &SessionSummary{
					ID:         p.SessionID,
					State:      "recording",
					StartedAt:  ev.TS,
					Recordings: make(map[string]RecordingSummary),
				}
			}
			s.Session.Recordings[ev.DeviceID] = RecordingSummary{Path: p.Path, State: "recording"}
		}
	case TypeRecProgress:
		if p, ok := ev.Payload.(RecorderProgressPayload); ok {
			if s.Session != nil && s.Session.ID == p.SessionID {
				rec := s.Session.Recordings[ev.DeviceID]
				rec.Bytes = p.Bytes
				rec.Stalled = p.Stalled
				s.Session.Recordings[ev.DeviceID] = rec
			}
		}
	case TypeRecStopped:
		if p, ok := ev.Payload.(RecorderStoppedPayload); ok {
			if s.Session != nil && s.Session.ID == p.SessionID {
				rec := s.Session.Recordings[ev.DeviceID]
				rec.State = p.Outcome
				rec.Error = p.Error
				rec.Bytes = p.Bytes
				s.Session.Recordings[ev.DeviceID] = rec

				done := true
				for _, r := range s.Session.Recordings {
					if r.State == "recording" {
						done = false
						break
					}
				}
				if done {
					s.Session.State = "stopped"
				}
			}
		}
	}
}
