// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ingest owns the per-camera capture pipelines: probing for
// signal, the bridge handshake, graph construction and the retry and
// health policies that keep every enabled camera publishing to the
// broker. The supervisor is the only writer of pipeline state.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/camcore/internal/broker"
	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/media"
	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/ManuGH/camcore/internal/probe"
	"github.com/ManuGH/camcore/internal/resilience"
)

// Prober is the device interrogation surface the supervisor depends on.
// Satisfied by *probe.Prober; tests substitute fakes.
type Prober interface {
	Probe(ctx context.Context, cam config.Camera) probe.Capabilities
	InitializeBridge(ctx context.Context, cam config.Camera) (probe.Capabilities, error)
}

// Supervisor drives all ingest pipelines. One coarse lock guards the
// handle map; media graphs are started and stopped with the lock
// released and guarded by per-handle epochs instead.
type Supervisor struct {
	mu      sync.Mutex
	cfg     config.IngestConfig
	order   []string
	handles map[string]*handle

	prober  Prober
	factory media.Factory
	broker  *broker.Client
	bus     *events.Bus
	timers  *resilience.RetryTimers
	backoff resilience.Backoff
	logger  zerolog.Logger

	// onRecordingLost fires when a teardown or rebuild drops an open
	// in-pipeline recording, so the session owner learns immediately
	// instead of waiting for the stall detector.
	onRecordingLost func(cameraID, path string)
}

// New creates a Supervisor over the configured cameras. Nothing is
// started; call StartAll or run the health loop.
func New(cfg config.IngestConfig, cams []config.Camera, p Prober, f media.Factory, b *broker.Client, bus *events.Bus) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		handles: make(map[string]*handle, len(cams)),
		prober:  p,
		factory: f,
		broker:  b,
		bus:     bus,
		timers:  resilience.NewRetryTimers(),
		backoff: resilience.DefaultBackoff,
		logger:  log.WithComponent("ingest"),
	}
	for _, cam := range cams {
		s.order = append(s.order, cam.ID)
		s.handles[cam.ID] = &handle{
			cam:        cam,
			state:      StateIdle,
			desired:    cam.Enabled,
			errLimiter: rate.NewLimiter(rate.Every(5*time.Second), 2),
		}
		metrics.SetPipelineState(cam.ID, string(StateIdle))
	}
	return s
}

// OnRecordingLost registers the recording-loss callback. The callback
// runs without the supervisor lock held and must not call back into
// valve control.
func (s *Supervisor) OnRecordingLost(fn func(cameraID, path string)) {
	s.mu.Lock()
	s.onRecordingLost = fn
	s.mu.Unlock()
}

func (s *Supervisor) reportRecordingLost(cameraID, path string) {
	if path == "" {
		return
	}
	s.logger.Warn().
		Str(log.FieldCamera, cameraID).
		Str(log.FieldPath, path).
		Msg("open recording dropped by pipeline teardown")
	s.mu.Lock()
	fn := s.onRecordingLost
	s.mu.Unlock()
	if fn != nil {
		fn(cameraID, path)
	}
}

// Start brings one camera to streaming. A camera without signal settles
// in no_signal and returns without error; the health loop recovers it
// when a source appears.
func (s *Supervisor) Start(ctx context.Context, cameraID string) (Status, error) {
	s.mu.Lock()
	h, ok := s.handles[cameraID]
	if !ok {
		s.mu.Unlock()
		return Status{}, core.Ef(core.KindInvalidArgument, "unknown camera %q", cameraID)
	}
	h.desired = true
	s.mu.Unlock()
	return s.start(ctx, cameraID, false)
}

// Stop tears down one camera's pipeline and marks it undesired: the
// health loop will not restart it until the next Start.
func (s *Supervisor) Stop(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	h, ok := s.handles[cameraID]
	if !ok {
		s.mu.Unlock()
		return core.Ef(core.KindInvalidArgument, "unknown camera %q", cameraID)
	}
	h.desired = false
	s.timers.Cancel(cameraID)
	graph := h.graph
	h.graph = nil
	h.epoch++
	wasStreaming := h.state == StateStreaming
	lostPath := h.dropRecordingLocked()
	s.setStateLocked(h, StateIdle)
	if wasStreaming {
		s.bus.Publish(events.TypePreviewStop, cameraID, events.PreviewPayload{State: "stopped"})
	}
	s.mu.Unlock()

	if graph != nil {
		s.stopGraph(ctx, graph)
	}
	s.reportRecordingLost(cameraID, lostPath)
	return nil
}

// StartAll starts every enabled camera sequentially. Per-camera failures
// are absorbed; each camera settles in its own state.
func (s *Supervisor) StartAll(ctx context.Context) {
	for _, id := range s.cameraIDs() {
		s.mu.Lock()
		desired := s.handles[id].desired
		s.mu.Unlock()
		if !desired {
			continue
		}
		if _, err := s.start(ctx, id, false); err != nil {
			s.logger.Warn().Str(log.FieldCamera, id).Err(err).Msg("start failed")
		}
	}
}

// StopAll stops every camera in parallel, staggering the stop requests
// so the encoder and broker are not hit by a synchronized teardown.
func (s *Supervisor) StopAll(ctx context.Context) {
	var g errgroup.Group
	for i, id := range s.cameraIDs() {
		delay := time.Duration(i) * s.cfg.StopStagger
		g.Go(func() error {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}
			}
			return s.Stop(ctx, id)
		})
	}
	_ = g.Wait()
}

// Status returns the view of every configured camera, in configuration
// order.
func (s *Supervisor) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.handles[id].status())
	}
	return out
}

// StatusOf returns one camera's view.
func (s *Supervisor) StatusOf(cameraID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[cameraID]
	if !ok {
		return Status{}, core.Ef(core.KindInvalidArgument, "unknown camera %q", cameraID)
	}
	return h.status(), nil
}

// Close cancels pending retries and stops all pipelines.
func (s *Supervisor) Close(ctx context.Context) {
	s.timers.CancelAll()
	s.StopAll(ctx)
}

func (s *Supervisor) cameraIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// start runs the full start sequence: teardown of any previous graph,
// probe, bridge handshake, graph construction and running confirmation.
// The epoch taken at entry detects a concurrent teardown, in which case
// the freshly started graph is discarded. force rebuilds a streaming
// pipeline instead of returning its current status.
func (s *Supervisor) start(ctx context.Context, cameraID string, force bool) (Status, error) {
	began := time.Now()

	s.mu.Lock()
	h := s.handles[cameraID]
	if !force && h.state == StateStreaming && h.graph != nil {
		st := h.status()
		s.mu.Unlock()
		return st, nil
	}
	s.timers.Cancel(cameraID)
	cam := h.cam
	pendingPath := h.pendingPath
	old := h.graph
	h.graph = nil
	h.epoch++
	epoch := h.epoch
	lostPath := h.dropRecordingLocked()
	s.setStateLocked(h, StateStarting)
	s.mu.Unlock()

	if old != nil {
		s.stopGraph(ctx, old)
	}
	s.reportRecordingLost(cameraID, lostPath)

	caps := s.prober.Probe(ctx, cam)
	if !caps.HasSignal {
		return s.settleNoSignal(cameraID, epoch)
	}

	if cam.IsBridge() {
		bcaps, err := s.prober.InitializeBridge(ctx, cam)
		if err != nil {
			return s.fail(cameraID, epoch, core.E(core.KindCapsUnavailable, "bridge handshake failed", err), true)
		}
		if !bcaps.HasSignal {
			return s.settleNoSignal(cameraID, epoch)
		}
		caps = bcaps
		if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
			return s.currentStatus(cameraID), err
		}
	}

	desc, builtPath := s.describe(cam, caps, pendingPath)
	graph, err := s.factory(desc)
	if err != nil {
		return s.fail(cameraID, epoch, core.E(core.KindPipelineStart, "graph construction failed", err), false)
	}

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	err = graph.Start(startCtx)
	cancel()
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
		_ = graph.Stop(stopCtx)
		cancel()
		return s.fail(cameraID, epoch,
			core.E(core.KindPipelineStart, "pipeline did not reach running", err),
			media.IsTransient(err))
	}

	s.mu.Lock()
	if h.epoch != epoch || !h.desired {
		st := h.status()
		s.mu.Unlock()
		s.stopGraph(context.Background(), graph)
		return st, nil
	}
	h.graph = graph
	h.caps = caps
	h.startedAt = time.Now()
	h.retries = 0
	h.lastErr = ""
	h.builtPath = builtPath
	h.pendingPath = ""
	h.valveUsed = false
	s.setStateLocked(h, StateStreaming)
	s.emitSignalLocked(h, caps)
	s.bus.Publish(events.TypePreviewStart, cameraID, events.PreviewPayload{State: "streaming"})
	metrics.ObservePipelineStart(cameraID, time.Since(began))
	st := h.status()
	s.mu.Unlock()

	go s.pump(cameraID, epoch, graph)

	s.logger.Info().
		Str(log.FieldCamera, cameraID).
		Str(log.FieldResolution, caps.String()).
		Dur("startup", time.Since(began)).
		Msg("pipeline streaming")
	return st, nil
}

// describe builds the launch description for the configured variant.
// The valve variant needs a file location at parse time; without a
// pending recording path a scratch location is used, which stays empty
// while the valve is closed.
func (s *Supervisor) describe(cam config.Camera, caps probe.Capabilities, pendingPath string) (media.Description, string) {
	params := media.EncodeParams{
		Device:      cam.Device,
		Width:       caps.Width,
		Height:      caps.Height,
		Framerate:   caps.Framerate,
		PixelFormat: caps.PixelFormat,
		BitrateKbps: cam.PreviewBitrateK,
	}
	publishURL := s.broker.PublishURL(cam.ID)

	if s.cfg.RecordingVariant != "valve" {
		return media.Preview(cam.ID, params, publishURL), ""
	}

	params.BitrateKbps = cam.RecordBitrateK
	path := pendingPath
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("camcore_%s_idle.mp4", cam.ID))
	}
	return media.TeeWithValve(cam.ID, params, publishURL, path), path
}

// settleNoSignal parks a camera in no_signal after an unsuccessful but
// healthy start. Not an error: the health loop polls for recovery.
func (s *Supervisor) settleNoSignal(cameraID string, epoch uint64) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handles[cameraID]
	if h.epoch != epoch {
		return h.status(), nil
	}
	s.setStateLocked(h, StateNoSignal)
	s.emitSignalLocked(h, probe.Capabilities{})
	return h.status(), nil
}

// fail records a start or runtime failure, publishes it, and schedules a
// retry when the failure class is transient and the budget allows.
func (s *Supervisor) fail(cameraID string, epoch uint64, err error, retryable bool) (Status, error) {
	s.mu.Lock()
	h := s.handles[cameraID]
	if h.epoch != epoch {
		st := h.status()
		s.mu.Unlock()
		return st, nil
	}
	h.lastErr = err.Error()
	s.setStateLocked(h, StateError)
	kind := core.KindOf(err)
	metrics.IncPipelineError(cameraID, string(kind))
	if h.errLimiter.Allow() {
		s.bus.Publish(events.TypePipelineError, cameraID, events.ErrorPayload{
			Kind:    string(kind),
			Message: err.Error(),
		})
	}

	if retryable && h.desired && h.retries < s.cfg.MaxRetries {
		attempt := h.retries
		h.retries++
		delay := s.backoff.Delay(attempt)
		metrics.IncPipelineRetry(cameraID, string(kind))
		s.logger.Warn().
			Str(log.FieldCamera, cameraID).
			Int(log.FieldRetry, attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("scheduling pipeline retry")
		s.timers.Schedule(cameraID, delay, func() {
			s.retry(cameraID, epoch)
		})
	} else {
		s.logger.Error().
			Str(log.FieldCamera, cameraID).
			Int(log.FieldRetry, h.retries).
			Err(err).
			Msg("pipeline failed, not retrying")
	}
	st := h.status()
	s.mu.Unlock()
	return st, err
}

// retry re-enters start from a timer. A bumped epoch means someone else
// already took over the camera.
func (s *Supervisor) retry(cameraID string, epoch uint64) {
	s.mu.Lock()
	h, ok := s.handles[cameraID]
	if !ok || h.epoch != epoch || !h.desired {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if _, err := s.start(context.Background(), cameraID, false); err != nil {
		s.logger.Debug().Str(log.FieldCamera, cameraID).Err(err).Msg("retry failed")
	}
}

// pump forwards asynchronous graph notifications into supervisor state.
// Runs once per successful start; exits when the graph closes its
// channel or the epoch goes stale.
func (s *Supervisor) pump(cameraID string, epoch uint64, graph media.Graph) {
	for msg := range graph.Messages() {
		switch msg.Kind {
		case media.MsgError:
			s.onGraphFailure(cameraID, epoch, msg.Err)
		case media.MsgEOS:
			s.onGraphFailure(cameraID, epoch, core.Ef(core.KindPipelineRuntime, "unexpected end of stream"))
		case media.MsgWarning:
			s.logger.Warn().Str(log.FieldCamera, cameraID).Err(msg.Err).Msg("pipeline warning")
		}
	}
}

// onGraphFailure handles a fatal runtime notification from a streaming
// graph: teardown, error state, and the transient-retry policy.
func (s *Supervisor) onGraphFailure(cameraID string, epoch uint64, cause error) {
	s.mu.Lock()
	h := s.handles[cameraID]
	if h.epoch != epoch {
		s.mu.Unlock()
		return
	}
	graph := h.graph
	h.graph = nil
	h.epoch++
	newEpoch := h.epoch
	lostPath := h.dropRecordingLocked()
	if h.state == StateStreaming {
		s.bus.Publish(events.TypePreviewStop, cameraID, events.PreviewPayload{State: "stopped"})
	}
	s.mu.Unlock()

	if graph != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
		_ = graph.Stop(stopCtx)
		cancel()
	}
	s.reportRecordingLost(cameraID, lostPath)

	err := cause
	if !core.IsKind(cause, core.KindOf(cause)) {
		err = core.E(core.KindPipelineRuntime, "pipeline runtime failure", cause)
	}
	_, _ = s.fail(cameraID, newEpoch, err, media.IsTransient(cause))
}

// setStateLocked transitions a handle and mirrors the change to metrics.
func (s *Supervisor) setStateLocked(h *handle, next State) {
	if h.state == next {
		return
	}
	s.logger.Debug().
		Str(log.FieldCamera, h.cam.ID).
		Str(log.FieldOldState, string(h.state)).
		Str(log.FieldNewState, string(next)).
		Msg("pipeline state change")
	h.state = next
	metrics.SetPipelineState(h.cam.ID, string(next))
}

// emitSignalLocked collapses probe results into signal edges: one
// input.signal_changed event per actual change.
func (s *Supervisor) emitSignalLocked(h *handle, caps probe.Capabilities) {
	if h.signalKnown && h.signal.HasSignal == caps.HasSignal && h.signal.SameMode(caps) {
		return
	}
	edge := "gained"
	switch {
	case !caps.HasSignal:
		edge = "lost"
	case h.signalKnown && h.signal.HasSignal:
		edge = "resolution"
	}
	h.signal = caps
	h.signalKnown = true
	metrics.IncSignalTransition(h.cam.ID, edge)
	s.bus.Publish(events.TypeSignalChanged, h.cam.ID, events.SignalPayload{
		HasSignal: caps.HasSignal,
		Width:     caps.Width,
		Height:    caps.Height,
		Framerate: caps.Framerate,
	})
}

func (s *Supervisor) currentStatus(cameraID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[cameraID].status()
}

// stopGraph drains a graph bounded by the configured stop timeout, even
// when the caller's context is already gone.
func (s *Supervisor) stopGraph(ctx context.Context, g media.Graph) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	stopCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	if err := g.Stop(stopCtx); err != nil {
		s.logger.Warn().Err(err).Msg("graph stop incomplete")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
