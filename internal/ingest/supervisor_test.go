// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/camcore/internal/broker"
	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/probe"
	"github.com/ManuGH/camcore/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var capsHD = probe.Capabilities{HasSignal: true, Width: 1920, Height: 1080, Framerate: 60, PixelFormat: "UYVY"}

func testIngestConfig(variant string) config.IngestConfig {
	return config.IngestConfig{
		HealthInterval:   10 * time.Millisecond,
		ProbeTimeout:     50 * time.Millisecond,
		StartTimeout:     100 * time.Millisecond,
		StopTimeout:      100 * time.Millisecond,
		SettleDelay:      time.Millisecond,
		StopStagger:      time.Millisecond,
		MaxRetries:       3,
		RecordingVariant: variant,
	}
}

func testCamera(id, device string) config.Camera {
	return config.Camera{
		ID:              id,
		Device:          device,
		PreviewBitrateK: 4000,
		RecordBitrateK:  12000,
		Enabled:         true,
	}
}

func newTestRig(t *testing.T, variant string, cams ...config.Camera) (*Supervisor, *fakeProber, *fakeFactory, *events.Bus) {
	t.Helper()
	if len(cams) == 0 {
		cams = []config.Camera{testCamera("cam1", "/dev/video60")}
	}
	bus := events.New(32)
	prober := newFakeProber()
	factory := &fakeFactory{}
	b := broker.New(config.BrokerConfig{
		RTSPBase:    "rtsp://127.0.0.1:8554",
		PublishBase: "rtsp://127.0.0.1:8554",
	})
	s := New(testIngestConfig(variant), cams, prober, factory.factory, b, bus)
	s.backoff = resilience.Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond}
	t.Cleanup(func() {
		s.Close(context.Background())
		bus.Close()
	})
	return s, prober, factory, bus
}

func TestStartStreaming(t *testing.T) {
	s, prober, factory, bus := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	st, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, st.State)
	assert.Equal(t, capsHD, st.Caps)

	require.Equal(t, 1, factory.builtCount())
	desc := factory.builtAt(0)
	assert.Contains(t, desc.Launch, "device=/dev/video60")
	assert.Contains(t, desc.Launch, "rtsp://127.0.0.1:8554/cam1")
	assert.Contains(t, desc.Launch, "width=1920,height=1080,framerate=60/1")
	assert.False(t, desc.HasValve)

	snap := bus.Snapshot()
	assert.Equal(t, "streaming", snap.Previews["cam1"])
	assert.True(t, snap.Inputs["cam1"].HasSignal)
	assert.Equal(t, 1920, snap.Inputs["cam1"].Width)
}

func TestStartNoSignal(t *testing.T) {
	s, prober, factory, bus := newTestRig(t, "subscriber")
	prober.set("cam1", probe.Capabilities{})

	st, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err, "absent signal is operational, not an error")
	assert.Equal(t, StateNoSignal, st.State)
	assert.Zero(t, factory.builtCount())

	in, ok := bus.Snapshot().Inputs["cam1"]
	require.True(t, ok)
	assert.False(t, in.HasSignal)
}

func TestStartIsIdempotentWhileStreaming(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	_, err = s.Start(context.Background(), "cam1")
	require.NoError(t, err)

	assert.Equal(t, 1, factory.builtCount(), "second start must not rebuild")
}

func TestStartUnknownCamera(t *testing.T) {
	s, _, _, _ := newTestRig(t, "subscriber")
	_, err := s.Start(context.Background(), "ghost")
	assert.True(t, core.IsKind(err, core.KindInvalidArgument))
}

func TestBridgeHandshakeBeforeStart(t *testing.T) {
	cam := testCamera("hdmi1", "/dev/video60")
	cam.Subdev = "/dev/v4l-subdev2"
	s, prober, factory, _ := newTestRig(t, "subscriber", cam)
	prober.set("hdmi1", capsHD)

	st, err := s.Start(context.Background(), "hdmi1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, st.State)
	assert.Equal(t, 1, prober.bridgeCalls)
	assert.Equal(t, 1, factory.builtCount())
}

func TestFactoryErrorIsTerminal(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)
	factory.err = errors.New("no element \"mpph264enc\"")

	st, err := s.Start(context.Background(), "cam1")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindPipelineStart))
	assert.Equal(t, StateError, st.State)

	// A missing element never resolves on its own: no retry pending.
	time.Sleep(20 * time.Millisecond)
	st, err = s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
	assert.Zero(t, st.Retries)
}

func TestTransientStartFailureRetriesToStreaming(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	broken := newFakeGraph()
	broken.startErr = errors.New("v4l2src: could not open device /dev/video60")
	factory.enqueue(broken)

	_, err := s.Start(context.Background(), "cam1")
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		st, _ := s.StatusOf("cam1")
		return st.State == StateStreaming
	}, 2*time.Second, 5*time.Millisecond, "retry should recover the pipeline")
	assert.Equal(t, 2, factory.builtCount())
}

func TestRetriesExhausted(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)
	for i := 0; i < 4; i++ {
		g := newFakeGraph()
		g.startErr = errors.New("device or resource busy")
		factory.enqueue(g)
	}

	_, err := s.Start(context.Background(), "cam1")
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		st, _ := s.StatusOf("cam1")
		return st.State == StateError && st.Retries == 3
	}, 2*time.Second, 5*time.Millisecond)

	// Initial attempt plus the full retry budget, then nothing more.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, factory.builtCount())
}

func TestRuntimeErrorRecovers(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	first := factory.madeAt(0)

	first.fail(errors.New("internal data stream error"))

	assert.Eventually(t, func() bool {
		st, _ := s.StatusOf("cam1")
		return st.State == StateStreaming && factory.builtCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, first.isStopped())
}

func TestStopTearsDown(t *testing.T) {
	s, prober, factory, bus := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background(), "cam1"))

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, factory.madeAt(0).isStopped())
	assert.Equal(t, "stopped", bus.Snapshot().Previews["cam1"])
}

func TestStopAllStopsEveryCamera(t *testing.T) {
	cams := []config.Camera{
		testCamera("cam1", "/dev/video60"),
		testCamera("cam2", "/dev/video61"),
		testCamera("cam3", "/dev/video62"),
	}
	s, prober, factory, _ := newTestRig(t, "subscriber", cams...)
	for _, cam := range cams {
		prober.set(cam.ID, capsHD)
	}
	s.StartAll(context.Background())
	require.Equal(t, 3, factory.builtCount())

	s.StopAll(context.Background())
	for _, st := range s.Status() {
		assert.Equal(t, StateIdle, st.State)
	}
	for i := 0; i < 3; i++ {
		assert.True(t, factory.madeAt(i).isStopped())
	}
}

func TestHealthSignalLossTearsDown(t *testing.T) {
	s, prober, factory, bus := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)

	prober.set("cam1", probe.Capabilities{})
	s.healthTick(context.Background())

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateNoSignal, st.State)
	assert.True(t, factory.madeAt(0).isStopped())
	assert.False(t, bus.Snapshot().Inputs["cam1"].HasSignal)
}

func TestHealthRecoversFromNoSignal(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "subscriber")
	prober.set("cam1", probe.Capabilities{})

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	require.Zero(t, factory.builtCount())

	prober.set("cam1", capsHD)
	s.healthTick(context.Background())

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, st.State)
	assert.Equal(t, 1, factory.builtCount())
}

func TestHealthRebuildsOnModeChange(t *testing.T) {
	s, prober, factory, bus := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)

	sd := probe.Capabilities{HasSignal: true, Width: 1280, Height: 720, Framerate: 50, PixelFormat: "UYVY"}
	prober.set("cam1", sd)
	s.healthTick(context.Background())

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, st.State)
	assert.Equal(t, sd, st.Caps)
	assert.Equal(t, 2, factory.builtCount())
	assert.True(t, factory.madeAt(0).isStopped())
	assert.Equal(t, 1280, bus.Snapshot().Inputs["cam1"].Width)
}

func TestHealthIgnoresUndesiredCameras(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	require.NoError(t, s.Stop(context.Background(), "cam1"))
	s.healthTick(context.Background())

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.Zero(t, factory.builtCount())
}

func TestHealthLoopStopsOnCancel(t *testing.T) {
	s, prober, _, _ := newTestRig(t, "subscriber")
	prober.set("cam1", probe.Capabilities{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunHealthLoop(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health loop did not exit")
	}
}
