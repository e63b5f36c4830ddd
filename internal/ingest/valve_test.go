// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/probe"
)

func TestValveVariantBuildsTee(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "valve")
	prober.set("cam1", capsHD)

	st, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, st.State)
	assert.False(t, st.RecordingActive)

	desc := factory.builtAt(0)
	assert.True(t, desc.HasValve)
	assert.Contains(t, desc.Launch, "valve name=recvalve drop=true")
	assert.Contains(t, desc.Launch, "tee name=t")
}

func TestOpenValveRebuildsAroundTargetFile(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "valve")
	prober.set("cam1", capsHD)

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)

	// The scratch build does not point at the session file: opening the
	// valve must rebuild with the real location first.
	path := "/recordings/session_1_cam1.mp4"
	require.NoError(t, s.OpenValve(context.Background(), "cam1", path))

	require.Equal(t, 2, factory.builtCount())
	assert.Contains(t, factory.builtAt(1).Launch, "location="+path)
	assert.True(t, factory.madeAt(1).isValveOpen())
	assert.True(t, factory.madeAt(0).isStopped())

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.True(t, st.RecordingActive)
	assert.Equal(t, path, st.RecordingPath)
}

func TestCloseValveFinalizes(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "valve")
	prober.set("cam1", capsHD)

	path := "/recordings/session_1_cam1.mp4"
	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	require.NoError(t, s.OpenValve(context.Background(), "cam1", path))

	got, err := s.CloseValve(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.False(t, factory.madeAt(1).isValveOpen())

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, st.State, "preview keeps running")
	assert.False(t, st.RecordingActive)

	// Closing again is a no-op.
	got, err = s.CloseValve(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReopenValveForcesFreshBuild(t *testing.T) {
	s, prober, factory, _ := newTestRig(t, "valve")
	prober.set("cam1", capsHD)

	path := "/recordings/session_1_cam1.mp4"
	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	require.NoError(t, s.OpenValve(context.Background(), "cam1", path))
	_, err = s.CloseValve(context.Background(), "cam1")
	require.NoError(t, err)

	// The file branch is single-use: even the same path needs a rebuild.
	require.NoError(t, s.OpenValve(context.Background(), "cam1", path))
	assert.Equal(t, 3, factory.builtCount())
	assert.True(t, factory.madeAt(2).isValveOpen())
}

func TestOpenValveWhileRecordingConflicts(t *testing.T) {
	s, prober, _, _ := newTestRig(t, "valve")
	prober.set("cam1", capsHD)

	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	require.NoError(t, s.OpenValve(context.Background(), "cam1", "/recordings/a.mp4"))

	err = s.OpenValve(context.Background(), "cam1", "/recordings/b.mp4")
	assert.True(t, core.IsKind(err, core.KindSessionConflict))
}

func TestValveControlRequiresValveVariant(t *testing.T) {
	s, prober, _, _ := newTestRig(t, "subscriber")
	prober.set("cam1", capsHD)

	err := s.OpenValve(context.Background(), "cam1", "/recordings/a.mp4")
	assert.True(t, core.IsKind(err, core.KindInvalidArgument))
	_, err = s.CloseValve(context.Background(), "cam1")
	assert.True(t, core.IsKind(err, core.KindInvalidArgument))
}

func TestRebuildReportsLostRecording(t *testing.T) {
	s, prober, _, _ := newTestRig(t, "valve")
	prober.set("cam1", capsHD)

	var mu sync.Mutex
	var lostCam, lostPath string
	s.OnRecordingLost(func(cam, path string) {
		mu.Lock()
		defer mu.Unlock()
		lostCam, lostPath = cam, path
	})

	path := "/recordings/session_1_cam1.mp4"
	_, err := s.Start(context.Background(), "cam1")
	require.NoError(t, err)
	require.NoError(t, s.OpenValve(context.Background(), "cam1", path))

	// A source mode change rebuilds the pipeline; the open file branch
	// does not survive the rebuild and the loss must be reported.
	sd := probe.Capabilities{HasSignal: true, Width: 1280, Height: 720, Framerate: 50, PixelFormat: "UYVY"}
	prober.set("cam1", sd)
	s.healthTick(context.Background())

	mu.Lock()
	assert.Equal(t, "cam1", lostCam)
	assert.Equal(t, path, lostPath)
	mu.Unlock()

	st, err := s.StatusOf("cam1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, st.State)
	assert.False(t, st.RecordingActive)
}

func TestOpenValveWithoutSignal(t *testing.T) {
	s, prober, _, _ := newTestRig(t, "valve")

	err := s.OpenValve(context.Background(), "cam1", "/recordings/a.mp4")
	assert.True(t, core.IsKind(err, core.KindNoSignal))
}
