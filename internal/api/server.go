// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the control surface of the capture core: camera
// and session operations, the authoritative status snapshot, the
// session journal and the WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camcore/internal/core"
	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/ingest"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/recorder"
	"github.com/ManuGH/camcore/internal/recorder/store"
)

// Ingest is the supervisor surface the API drives.
type Ingest interface {
	Start(ctx context.Context, cameraID string) (ingest.Status, error)
	Stop(ctx context.Context, cameraID string) error
	Status() []ingest.Status
}

// Recorder is the session surface the API drives.
type Recorder interface {
	StartSession(ctx context.Context, key string, cameras []string) (recorder.SessionInfo, error)
	StopSession(ctx context.Context, sessionID string) (recorder.SessionInfo, error)
	Sessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
}

// Server wires the HTTP handlers to the core components.
type Server struct {
	ingest   Ingest
	recorder Recorder
	bus      *events.Bus
	logger   zerolog.Logger
}

// New creates the API server.
func New(ing Ingest, rec Recorder, bus *events.Bus) *Server {
	return &Server{
		ingest:   ing,
		recorder: rec,
		bus:      bus,
		logger:   log.WithComponent("api"),
	}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestIDToContext)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/cameras", s.handleCameras)
		r.Post("/cameras/{id}/start", s.handleCameraStart)
		r.Post("/cameras/{id}/stop", s.handleCameraStop)
		r.Post("/session/start", s.handleSessionStart)
		r.Post("/session/stop", s.handleSessionStop)
		r.Get("/sessions", s.handleSessions)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// requestIDToContext copies the chi request ID into the context keys the
// component loggers read, so handler and recorder log lines for one
// request can be joined.
func requestIDToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			r = r.WithContext(log.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the authoritative snapshot from the event bus
// state cache: mode, session, inputs and previews, plus the sequence
// the snapshot is current as of.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Snapshot())
}

func (s *Server) handleCameras(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ingest.Status())
}

func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.ingest.Start(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ingest.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"camera": id, "state": "idle"})
}

type sessionStartRequest struct {
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Cameras        []string `json:"cameras,omitempty"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, core.E(core.KindInvalidArgument, "malformed request body", err))
			return
		}
	}

	info, err := s.recorder.StartSession(r.Context(), req.IdempotencyKey, req.Cameras)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if info.Replayed {
		code = http.StatusOK
	}
	log.WithIDs(r.Context(), s.logger).Info().
		Str(log.FieldSessionID, info.ID).
		Bool("replayed", info.Replayed).
		Msg("session start requested")
	writeJSON(w, code, info)
}

type sessionStopRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// handleSessionStop stops the active session. The optional session_id
// guards against a stale client stopping a session it did not start.
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	var req sessionStopRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, core.E(core.KindInvalidArgument, "malformed request body", err))
			return
		}
	}
	info, err := s.recorder.StopSession(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, core.Ef(core.KindInvalidArgument, "invalid limit %q", raw))
			return
		}
		limit = n
	}
	recs, err := s.recorder.Sessions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []store.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
