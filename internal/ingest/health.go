// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"time"

	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/probe"
)

// RunHealthLoop polls every desired camera at the configured interval
// and reconciles pipeline state with observed signal: signal loss tears
// down to no_signal, recovery restarts, a changed source mode forces a
// rebuild. Blocks until ctx is cancelled.
func (s *Supervisor) RunHealthLoop(ctx context.Context) {
	interval := s.cfg.HealthInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.healthTick(ctx)
		}
	}
}

// healthTick runs one reconciliation pass over all cameras.
func (s *Supervisor) healthTick(ctx context.Context) {
	for _, id := range s.cameraIDs() {
		if ctx.Err() != nil {
			return
		}
		s.checkCamera(ctx, id)
	}
}

func (s *Supervisor) checkCamera(ctx context.Context, cameraID string) {
	s.mu.Lock()
	h := s.handles[cameraID]
	cam := h.cam
	desired := h.desired
	state := h.state
	streamingCaps := h.caps
	epoch := h.epoch
	s.mu.Unlock()

	if !desired {
		return
	}
	// A retry timer owns error recovery; starting is in flight already.
	if state == StateStarting || (state == StateError && s.timers.Pending(cameraID)) {
		return
	}

	caps := s.prober.Probe(ctx, cam)

	switch {
	case state == StateStreaming && !caps.HasSignal:
		s.logger.Info().Str(log.FieldCamera, cameraID).Msg("signal lost, tearing down")
		s.teardownToNoSignal(ctx, cameraID, epoch)

	case state == StateStreaming && !caps.SameMode(streamingCaps):
		s.logger.Info().
			Str(log.FieldCamera, cameraID).
			Str(log.FieldOldState, streamingCaps.String()).
			Str(log.FieldNewState, caps.String()).
			Msg("source mode changed, rebuilding pipeline")
		if _, err := s.start(ctx, cameraID, true); err != nil {
			s.logger.Warn().Str(log.FieldCamera, cameraID).Err(err).Msg("rebuild failed")
		}

	case (state == StateNoSignal || state == StateIdle) && caps.HasSignal:
		s.logger.Info().
			Str(log.FieldCamera, cameraID).
			Str(log.FieldResolution, caps.String()).
			Msg("signal detected, starting pipeline")
		if _, err := s.start(ctx, cameraID, false); err != nil {
			s.logger.Warn().Str(log.FieldCamera, cameraID).Err(err).Msg("recovery start failed")
		}
	}
}

// teardownToNoSignal stops a streaming camera whose source disappeared.
func (s *Supervisor) teardownToNoSignal(ctx context.Context, cameraID string, epoch uint64) {
	s.mu.Lock()
	h := s.handles[cameraID]
	if h.epoch != epoch {
		s.mu.Unlock()
		return
	}
	graph := h.graph
	h.graph = nil
	h.epoch++
	lostPath := h.dropRecordingLocked()
	s.setStateLocked(h, StateNoSignal)
	s.emitSignalLocked(h, probe.Capabilities{})
	s.bus.Publish(events.TypePreviewStop, cameraID, events.PreviewPayload{State: "stopped"})
	s.mu.Unlock()

	if graph != nil {
		s.stopGraph(ctx, graph)
	}
	s.reportRecordingLost(cameraID, lostPath)
}
