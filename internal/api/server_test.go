// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/ingest"
	"github.com/ManuGH/camcore/internal/recorder"
	"github.com/ManuGH/camcore/internal/recorder/store"
)

type fakeIngest struct {
	status   []ingest.Status
	startErr error
	stopped  []string
}

func (f *fakeIngest) Start(_ context.Context, id string) (ingest.Status, error) {
	if f.startErr != nil {
		return ingest.Status{}, f.startErr
	}
	return ingest.Status{Camera: id, State: ingest.StateStreaming}, nil
}

func (f *fakeIngest) Stop(_ context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeIngest) Status() []ingest.Status { return f.status }

type fakeRecorder struct {
	info     recorder.SessionInfo
	startErr error
	stopID   string
	stopErr  error
	sessions []store.SessionRecord
}

func (f *fakeRecorder) StartSession(_ context.Context, key string, _ []string) (recorder.SessionInfo, error) {
	if f.startErr != nil {
		return recorder.SessionInfo{}, f.startErr
	}
	info := f.info
	if info.ID == "" {
		info.ID = "session_test"
	}
	info.IdempotencyKey = key
	return info, nil
}

func (f *fakeRecorder) StopSession(_ context.Context, sessionID string) (recorder.SessionInfo, error) {
	f.stopID = sessionID
	if f.stopErr != nil {
		return recorder.SessionInfo{}, f.stopErr
	}
	info := f.info
	info.State = "stopped"
	return info, nil
}

func (f *fakeRecorder) Sessions(context.Context, int) ([]store.SessionRecord, error) {
	return f.sessions, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeIngest, *fakeRecorder, *events.Bus) {
	t.Helper()
	ing := &fakeIngest{}
	rec := &fakeRecorder{}
	bus := events.New(32)
	srv := httptest.NewServer(New(ing, rec, bus).Router())
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})
	return srv, ing, rec, bus
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusReturnsSnapshot(t *testing.T) {
	srv, _, _, bus := newTestServer(t)
	bus.Publish(events.TypeSignalChanged, "cam1", events.SignalPayload{HasSignal: true, Width: 1920, Height: 1080, Framerate: 60})

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap events.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "idle", snap.Mode)
	assert.True(t, snap.Inputs["cam1"].HasSignal)
	assert.Equal(t, uint64(1), snap.Seq)
}

func TestCameraStart(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/cameras/cam1/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st ingest.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "cam1", st.Camera)
	assert.Equal(t, ingest.StateStreaming, st.State)
}

func TestCameraStartUnknown(t *testing.T) {
	srv, ing, _, _ := newTestServer(t)
	ing.startErr = core.Ef(core.KindInvalidArgument, "unknown camera %q", "ghost")

	resp, err := http.Post(srv.URL+"/api/cameras/ghost/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid-argument", body.Error)
}

func TestSessionStartCreated(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	payload := bytes.NewBufferString(`{"idempotency_key":"take-1"}`)
	resp, err := http.Post(srv.URL+"/api/session/start", "application/json", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info recorder.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "take-1", info.IdempotencyKey)
}

func TestSessionStartReplayedIsOK(t *testing.T) {
	srv, _, rec, _ := newTestServer(t)
	rec.info = recorder.SessionInfo{ID: "session_test", Replayed: true}

	resp, err := http.Post(srv.URL+"/api/session/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionStartConflict(t *testing.T) {
	srv, _, rec, _ := newTestServer(t)
	rec.startErr = core.Ef(core.KindSessionConflict, "session s1 is recording")

	resp, err := http.Post(srv.URL+"/api/session/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSessionStartInsufficientStorage(t *testing.T) {
	srv, _, rec, _ := newTestServer(t)
	rec.startErr = core.Ef(core.KindStorageInsufficient, "3 GB free, 5 GB required")

	resp, err := http.Post(srv.URL+"/api/session/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
}

func TestSessionStartMalformedBody(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/session/start", "application/json", bytes.NewBufferString("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionStopForwardsSessionID(t *testing.T) {
	srv, _, rec, _ := newTestServer(t)
	payload := bytes.NewBufferString(`{"session_id":"session_test"}`)
	resp, err := http.Post(srv.URL+"/api/session/stop", "application/json", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "session_test", rec.stopID)
}

func TestSessionStopStaleIDConflicts(t *testing.T) {
	srv, _, rec, _ := newTestServer(t)
	rec.stopErr = core.Ef(core.KindSessionConflict, "session %q is not active", "session_old")

	payload := bytes.NewBufferString(`{"session_id":"session_old"}`)
	resp, err := http.Post(srv.URL+"/api/session/stop", "application/json", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "session-conflict", body.Error)
}

func TestSessionStopWithoutBodyStopsActive(t *testing.T) {
	srv, _, rec, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/session/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, rec.stopID)
}

func TestSessionsList(t *testing.T) {
	srv, _, rec, _ := newTestServer(t)
	rec.sessions = []store.SessionRecord{{ID: "s1", State: "stopped"}}

	resp, err := http.Get(srv.URL + "/api/sessions?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []store.SessionRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
}

func TestSessionsListInvalidLimit(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/sessions?limit=banana")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsListEmptyIsArray(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw bytes.Buffer
	_, _ = raw.ReadFrom(resp.Body)
	assert.JSONEq(t, "[]", raw.String())
}
