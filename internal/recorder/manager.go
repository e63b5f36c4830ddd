// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder coordinates recording sessions across cameras. In the
// default variant each recording is an independent broker subscriber;
// pipeline trouble on one camera never touches the others. The manager
// also owns the disk preflight, the stall detector and the session
// journal.
package recorder

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/ingest"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/media"
	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/ManuGH/camcore/internal/recorder/store"
)

// recStartTimeout bounds the running confirmation of one subscriber graph.
const recStartTimeout = 5 * time.Second

// Streams is the ingest surface the recorder depends on: which cameras
// are live, and valve control for the in-pipeline variant. Satisfied by
// *ingest.Supervisor.
type Streams interface {
	Status() []ingest.Status
	OpenValve(ctx context.Context, cameraID, path string) error
	CloseValve(ctx context.Context, cameraID string) (string, error)
}

// Broker is the subset of the broker client the recorder uses.
type Broker interface {
	ReadURL(cameraID string) string
	Check(ctx context.Context) error
}

// Manager runs at most one session at a time.
type Manager struct {
	mu       sync.Mutex
	cfg      config.RecorderConfig
	variant  string
	streams  Streams
	factory  media.Factory
	broker   Broker
	bus      *events.Bus
	journal  *store.Store
	diskFree func(path string) (uint64, error)
	logger   zerolog.Logger

	active   *session
	last     *session
	activity map[string]time.Time
	critical bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithJournal attaches the SQLite session journal.
func WithJournal(j *store.Store) Option {
	return func(m *Manager) { m.journal = j }
}

// WithDiskFree overrides the free-space source (tests).
func WithDiskFree(fn func(path string) (uint64, error)) Option {
	return func(m *Manager) { m.diskFree = fn }
}

// New creates a Manager. variant mirrors the ingest recording variant.
func New(cfg config.RecorderConfig, variant string, streams Streams, factory media.Factory, broker Broker, bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		variant:  variant,
		streams:  streams,
		factory:  factory,
		broker:   broker,
		bus:      bus,
		diskFree: gopsutilFree,
		logger:   log.WithComponent("recorder"),
		activity: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func gopsutilFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// StartSession starts recordings on the requested cameras, or on every
// streaming camera when none are named. Re-sending the same idempotency
// key while that session runs returns it unchanged.
func (m *Manager) StartSession(ctx context.Context, key string, cameras []string) (SessionInfo, error) {
	ctx = log.ContextWithCorrelationID(ctx, uuid.NewString())
	logger := log.WithIDs(ctx, m.logger)

	m.mu.Lock()
	if m.active != nil {
		if key != "" && key == m.active.key {
			info := m.active.info()
			info.Replayed = true
			m.mu.Unlock()
			logger.Info().Str(log.FieldSessionID, info.ID).Msg("idempotent session start replayed")
			metrics.IncSessionStart("replayed")
			return info, nil
		}
		id := m.active.id
		m.mu.Unlock()
		metrics.IncSessionStart("conflict")
		return SessionInfo{}, core.Ef(core.KindSessionConflict, "session %s is recording", id)
	}
	m.mu.Unlock()

	targets, err := m.resolveTargets(cameras)
	if err != nil {
		metrics.IncSessionStart("rejected")
		return SessionInfo{}, err
	}
	if err := m.preflight(ctx); err != nil {
		metrics.IncSessionStart("rejected")
		return SessionInfo{}, err
	}

	now := time.Now().UTC()
	sess := &session{
		id:        sessionID(key, now),
		key:       key,
		state:     "recording",
		startedAt: now,
		recs:      make(map[string]*recording),
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		metrics.IncSessionStart("conflict")
		return SessionInfo{}, core.Ef(core.KindSessionConflict, "session %s is recording", m.active.id)
	}
	m.active = sess
	m.critical = false
	m.mu.Unlock()

	m.bus.Publish(events.TypeModeChanged, "", events.ModePayload{Mode: "recording"})

	started := 0
	var firstErr error
	for _, cam := range targets {
		path := recordingPath(m.cfg.Root, sess.id, cam, now)
		rec := &recording{camera: cam, path: path, state: "recording", startedAt: now, checkedAt: now}

		m.mu.Lock()
		sess.order = append(sess.order, cam)
		sess.recs[cam] = rec
		m.mu.Unlock()

		if err := m.startRecording(ctx, sess.id, rec); err != nil {
			logger.Error().
				Str(log.FieldSessionID, sess.id).
				Str(log.FieldCamera, cam).
				Err(err).
				Msg("recording failed to start")
			m.mu.Lock()
			rec.state = "error"
			rec.errMsg = err.Error()
			rec.stoppedAt = time.Now().UTC()
			m.mu.Unlock()
			m.bus.Publish(events.TypeRecStopped, cam, events.RecorderStoppedPayload{
				SessionID: sess.id,
				Outcome:   "error",
				Error:     err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		started++
		metrics.ActiveRecordings.Inc()
		m.bus.Publish(events.TypeRecStarted, cam, events.RecorderStartedPayload{
			SessionID: sess.id,
			Path:      path,
		})
		logger.Info().
			Str(log.FieldSessionID, sess.id).
			Str(log.FieldCamera, cam).
			Str(log.FieldPath, path).
			Msg("recording started")
	}

	if started == 0 {
		m.mu.Lock()
		sess.state = "stopped"
		sess.stoppedAt = time.Now().UTC()
		m.last = sess
		m.active = nil
		m.mu.Unlock()
		m.bus.Publish(events.TypeModeChanged, "", events.ModePayload{Mode: "idle"})
		metrics.IncSessionStart("failed")
		return SessionInfo{}, firstErr
	}

	metrics.IncSessionStart("started")
	m.mu.Lock()
	info := sess.info()
	m.mu.Unlock()
	m.persist(ctx, sess)
	return info, nil
}

// StopSession stops all recordings of the active session. An empty
// sessionID stops whatever is active; a non-empty one must name the
// active session, or the already stopped one for an idempotent re-stop.
// A stale identifier returns session-conflict instead of killing a
// session the caller never started.
func (m *Manager) StopSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	m.mu.Lock()
	sess := m.active
	if sess == nil {
		if sessionID != "" && (m.last == nil || m.last.id != sessionID) {
			m.mu.Unlock()
			return SessionInfo{}, core.Ef(core.KindSessionConflict, "session %q is not active", sessionID)
		}
		var info SessionInfo
		if m.last != nil {
			info = m.last.info()
		}
		m.mu.Unlock()
		return info, nil
	}
	if sessionID != "" && sessionID != sess.id {
		id := sess.id
		m.mu.Unlock()
		return SessionInfo{}, core.Ef(core.KindSessionConflict, "session %q is not active, %s is", sessionID, id)
	}
	sess.state = "stopping"
	var open []*recording
	for _, cam := range sess.order {
		if r := sess.recs[cam]; r.state == "recording" {
			open = append(open, r)
		}
	}
	m.mu.Unlock()

	for _, rec := range open {
		m.stopRecording(ctx, sess.id, rec)
	}

	m.mu.Lock()
	sess.state = "stopped"
	sess.stoppedAt = time.Now().UTC()
	m.last = sess
	m.active = nil
	info := sess.info()
	m.mu.Unlock()

	m.bus.Publish(events.TypeModeChanged, "", events.ModePayload{Mode: "idle"})
	m.logger.Info().Str(log.FieldSessionID, info.ID).Msg("session stopped")
	m.persist(ctx, sess)
	return info, nil
}

// Active returns the running session, if any.
func (m *Manager) Active() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return SessionInfo{}, false
	}
	return m.active.info(), true
}

// Sessions lists journaled sessions, newest first. Without a journal the
// result covers at most the last in-memory session.
func (m *Manager) Sessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	if m.journal == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		var out []store.SessionRecord
		if m.active != nil {
			out = append(out, m.active.record())
		} else if m.last != nil {
			out = append(out, m.last.record())
		}
		return out, nil
	}
	return m.journal.List(ctx, limit)
}

// resolveTargets maps the request onto streaming cameras.
func (m *Manager) resolveTargets(requested []string) ([]string, error) {
	status := m.streams.Status()
	streaming := make(map[string]bool, len(status))
	var all []string
	for _, st := range status {
		if st.State == ingest.StateStreaming {
			streaming[st.Camera] = true
			all = append(all, st.Camera)
		}
	}

	if len(requested) == 0 {
		if len(all) == 0 {
			return nil, core.Ef(core.KindNoSignal, "no camera is streaming")
		}
		return all, nil
	}
	for _, cam := range requested {
		if !streaming[cam] {
			return nil, core.Ef(core.KindInvalidArgument, "camera %q is not streaming", cam)
		}
	}
	return requested, nil
}

// preflight checks disk headroom and, for the subscriber variant, broker
// reachability, before any pipeline is touched.
func (m *Manager) preflight(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.Root, 0o755); err != nil {
		return core.E(core.KindStorageInsufficient, "recordings root unavailable", err)
	}
	free, err := m.diskFree(m.cfg.Root)
	if err != nil {
		return core.E(core.KindStorageInsufficient, "free-space check failed", err)
	}
	metrics.SetDiskFree(free)
	if free < m.cfg.StartThreshold {
		return core.Ef(core.KindStorageInsufficient, "%d bytes free, %d required", free, m.cfg.StartThreshold)
	}
	if m.variant != "valve" && m.broker != nil {
		if err := m.broker.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// startRecording realizes one recording: valve control in the in-pipeline
// variant, a dedicated subscriber graph otherwise.
func (m *Manager) startRecording(ctx context.Context, sessionID string, rec *recording) error {
	if m.variant == "valve" {
		return m.streams.OpenValve(ctx, rec.camera, rec.path)
	}

	desc := media.Subscriber(sessionID+"_"+rec.camera, m.broker.ReadURL(rec.camera), rec.path)
	graph, err := m.factory(desc)
	if err != nil {
		return core.E(core.KindPipelineStart, "recorder graph construction failed", err)
	}
	startCtx, cancel := context.WithTimeout(ctx, recStartTimeout)
	err = graph.Start(startCtx)
	cancel()
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
		_ = graph.Stop(stopCtx)
		cancel()
		return core.E(core.KindPipelineStart, "recorder graph did not reach running", err)
	}

	m.mu.Lock()
	rec.graph = graph
	m.mu.Unlock()
	go m.pump(sessionID, rec.camera, graph)
	return nil
}

// stopRecording finalizes one recording and publishes its outcome.
func (m *Manager) stopRecording(ctx context.Context, sessionID string, rec *recording) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	if m.variant == "valve" {
		if _, err := m.streams.CloseValve(ctx, rec.camera); err != nil {
			m.logger.Warn().Str(log.FieldCamera, rec.camera).Err(err).Msg("valve close failed")
		}
	} else {
		m.mu.Lock()
		graph := rec.graph
		rec.graph = nil
		m.mu.Unlock()
		if graph != nil {
			stopCtx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
			if err := graph.Stop(stopCtx); err != nil {
				m.logger.Warn().Str(log.FieldCamera, rec.camera).Err(err).Msg("recorder graph stop incomplete")
			}
			cancel()
		}
	}

	bytes := rec.bytes
	if st, err := os.Stat(rec.path); err == nil {
		bytes = st.Size()
	}

	m.mu.Lock()
	rec.bytes = bytes
	rec.state = "stopped"
	rec.stoppedAt = time.Now().UTC()
	m.mu.Unlock()

	metrics.ActiveRecordings.Dec()
	metrics.AddRecordingBytes(rec.camera, bytes)
	m.bus.Publish(events.TypeRecStopped, rec.camera, events.RecorderStoppedPayload{
		SessionID: sessionID,
		Outcome:   "stopped",
		Bytes:     bytes,
	})
}

// pump turns fatal subscriber graph notifications into recording errors.
// Other recordings in the session keep running.
func (m *Manager) pump(sessionID, camera string, graph media.Graph) {
	for msg := range graph.Messages() {
		if msg.Kind != media.MsgError {
			continue
		}
		m.onRecordingFailure(sessionID, camera, msg.Err)
	}
}

// RecordingLost marks a recording whose file branch was dropped by a
// pipeline teardown or rebuild, e.g. after a source mode change. Wired
// as the ingest supervisor's loss callback in the in-pipeline variant.
func (m *Manager) RecordingLost(camera, path string) {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()
	if sess == nil {
		return
	}
	m.onRecordingFailure(sess.id, camera,
		core.Ef(core.KindPipelineRuntime, "recording %s dropped by pipeline rebuild", path))
}

func (m *Manager) onRecordingFailure(sessionID, camera string, cause error) {
	m.mu.Lock()
	if m.active == nil || m.active.id != sessionID {
		m.mu.Unlock()
		return
	}
	rec := m.active.recs[camera]
	if rec == nil || rec.state != "recording" {
		m.mu.Unlock()
		return
	}
	graph := rec.graph
	rec.graph = nil
	rec.state = "error"
	rec.errMsg = cause.Error()
	rec.stoppedAt = time.Now().UTC()
	bytes := rec.bytes
	m.mu.Unlock()

	if graph != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
		_ = graph.Stop(stopCtx)
		cancel()
	}

	metrics.ActiveRecordings.Dec()
	m.logger.Error().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldCamera, camera).
		Err(cause).
		Msg("recording failed")
	m.bus.Publish(events.TypeRecStopped, camera, events.RecorderStoppedPayload{
		SessionID: sessionID,
		Outcome:   "error",
		Error:     cause.Error(),
		Bytes:     bytes,
	})
}

// persist mirrors the session to the sidecar file and the journal.
func (m *Manager) persist(ctx context.Context, sess *session) {
	m.mu.Lock()
	info := sess.info()
	rec := sess.record()
	m.mu.Unlock()

	m.writeSidecar(info)
	if m.journal != nil {
		if err := m.journal.Save(ctx, rec); err != nil {
			m.logger.Warn().Str(log.FieldSessionID, info.ID).Err(err).Msg("journal save failed")
		}
	}
}
