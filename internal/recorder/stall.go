// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/metrics"
)

// Run drives the progress poller, the stall detector and the disk guard.
// A filesystem watcher on the recordings root supplements the size polls:
// write activity resets the stall strike counter even when the file size
// is momentarily flat. Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.StallInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	if err := os.MkdirAll(m.cfg.Root, 0o755); err == nil {
		if watcher, werr := fsnotify.NewWatcher(); werr == nil {
			if err := watcher.Add(m.cfg.Root); err != nil {
				m.logger.Warn().Str(log.FieldPath, m.cfg.Root).Err(err).Msg("recordings watch unavailable")
			}
			go m.consumeWatch(watcher)
			defer watcher.Close()
		} else {
			m.logger.Warn().Err(werr).Msg("fsnotify unavailable, stall detection is poll-only")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollProgress()
			m.guardDisk(ctx)
		}
	}
}

func (m *Manager) consumeWatch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.noteActivity(ev.Name)
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (m *Manager) noteActivity(path string) {
	m.mu.Lock()
	m.activity[path] = time.Now()
	m.mu.Unlock()
}

// pollProgress samples the size of every active recording. Growth resets
// the strike counter and reports progress; the configured number of flat
// polls in a row without write activity declares a stall. Stalls are
// reported, never auto-aborted: the encoded stream may still recover.
func (m *Manager) pollProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	sessionID := m.active.id
	now := time.Now()

	for _, cam := range m.active.order {
		rec := m.active.recs[cam]
		if rec.state != "recording" {
			continue
		}

		var size int64
		if st, err := os.Stat(rec.path); err == nil {
			size = st.Size()
		}

		grew := size > rec.bytes
		activity := m.activity[rec.path].After(rec.checkedAt)
		rec.checkedAt = now

		if grew || activity {
			if grew {
				metrics.AddRecordingBytes(cam, size-rec.bytes)
				rec.bytes = size
			}
			rec.strikes = 0
			if rec.stalled {
				rec.stalled = false
				m.logger.Info().Str(log.FieldCamera, cam).Msg("recording resumed after stall")
			}
			m.bus.Publish(events.TypeRecProgress, cam, events.RecorderProgressPayload{
				SessionID: sessionID,
				Bytes:     rec.bytes,
			})
			continue
		}

		rec.strikes++
		if rec.strikes >= m.cfg.StallStrikes && !rec.stalled {
			rec.stalled = true
			metrics.IncStall(cam)
			m.logger.Warn().
				Str(log.FieldSessionID, sessionID).
				Str(log.FieldCamera, cam).
				Str(log.FieldPath, rec.path).
				Int64("bytes", rec.bytes).
				Msg("recording stalled")
			m.bus.Publish(events.TypeRecProgress, cam, events.RecorderProgressPayload{
				SessionID: sessionID,
				Bytes:     rec.bytes,
				Stalled:   true,
			})
			m.bus.Publish(events.TypeError, cam, events.ErrorPayload{
				Kind:    string(core.KindStallDetected),
				Message: "recording file stopped growing",
			})
		}
	}
}

// guardDisk stops the active session when free space falls under the
// hard-stop threshold. Best effort: already written files stay on disk.
func (m *Manager) guardDisk(ctx context.Context) {
	free, err := m.diskFree(m.cfg.Root)
	if err != nil {
		return
	}
	metrics.SetDiskFree(free)

	m.mu.Lock()
	recording := m.active != nil && !m.critical
	if recording && free < m.cfg.HardStopThreshold {
		m.critical = true
		m.mu.Unlock()
		m.logger.Error().
			Uint64("free_bytes", free).
			Uint64("threshold", m.cfg.HardStopThreshold).
			Msg("disk critically full, stopping session")
		m.bus.Publish(events.TypeError, "", events.ErrorPayload{
			Kind:    string(core.KindStorageCritical),
			Message: "free space exhausted, session stopped",
		})
		if _, err := m.StopSession(ctx, ""); err != nil {
			m.logger.Error().Err(err).Msg("emergency stop failed")
		}
		return
	}
	m.mu.Unlock()
}
