// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"time"

	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/log"
)

// OpenValve starts in-pipeline recording to path. Only valid when the
// in-pipeline variant is configured. The file branch is single-use per
// graph build: when the current build already wrote a file, or was built
// for a different location, the pipeline is rebuilt around the new path
// before the valve opens. The preview branch stays live throughout.
func (s *Supervisor) OpenValve(ctx context.Context, cameraID, path string) error {
	if s.cfg.RecordingVariant != "valve" {
		return core.Ef(core.KindInvalidArgument, "recording variant is %q, valve control unavailable", s.cfg.RecordingVariant)
	}

	s.mu.Lock()
	h, ok := s.handles[cameraID]
	if !ok {
		s.mu.Unlock()
		return core.Ef(core.KindInvalidArgument, "unknown camera %q", cameraID)
	}
	if h.recordingActive {
		s.mu.Unlock()
		return core.Ef(core.KindSessionConflict, "camera %s is already recording", cameraID)
	}
	rebuild := h.graph == nil || h.state != StateStreaming || h.valveUsed || h.builtPath != path
	h.pendingPath = path
	s.mu.Unlock()

	if rebuild {
		st, err := s.start(ctx, cameraID, true)
		if err != nil {
			return err
		}
		if st.State != StateStreaming {
			return core.Ef(core.KindNoSignal, "camera %s is %s", cameraID, st.State)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h.state != StateStreaming || h.graph == nil {
		return core.Ef(core.KindPipelineRuntime, "camera %s is not streaming", cameraID)
	}
	if err := h.graph.SetValve(true); err != nil {
		return core.E(core.KindPipelineRuntime, "open recording valve", err)
	}
	h.recordingActive = true
	h.recordingPath = h.builtPath
	h.recordingStart = time.Now()
	s.logger.Info().
		Str(log.FieldCamera, cameraID).
		Str(log.FieldPath, h.recordingPath).
		Msg("recording valve opened")
	return nil
}

// CloseValve stops in-pipeline recording and returns the path of the
// finalized file. Closing an already closed valve is a no-op.
func (s *Supervisor) CloseValve(ctx context.Context, cameraID string) (string, error) {
	if s.cfg.RecordingVariant != "valve" {
		return "", core.Ef(core.KindInvalidArgument, "recording variant is %q, valve control unavailable", s.cfg.RecordingVariant)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[cameraID]
	if !ok {
		return "", core.Ef(core.KindInvalidArgument, "unknown camera %q", cameraID)
	}
	if !h.recordingActive {
		return "", nil
	}
	path := h.recordingPath
	if h.graph != nil {
		if err := h.graph.SetValve(false); err != nil {
			return path, core.E(core.KindPipelineRuntime, "close recording valve", err)
		}
	}
	h.recordingActive = false
	h.valveUsed = true
	s.logger.Info().
		Str(log.FieldCamera, cameraID).
		Str(log.FieldPath, path).
		Dur("duration", time.Since(h.recordingStart)).
		Msg("recording valve closed")
	return path, nil
}
