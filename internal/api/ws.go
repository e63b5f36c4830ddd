// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManuGH/camcore/internal/log"
)

const wsWriteTimeout = 5 * time.Second

// The appliance serves trusted operator UIs on the local network; no
// origin policy is enforced.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents upgrades to WebSocket and streams the event feed. The
// optional last_seq query parameter requests catch-up: the first frames
// are a connected event and a sync_response, then live events follow in
// sequence order.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var lastSeq uint64
	if raw := r.URL.Query().Get("last_seq"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid last_seq", http.StatusBadRequest)
			return
		}
		lastSeq = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(lastSeq)
	defer sub.Close()

	s.logger.Debug().
		Uint64(log.FieldSeq, lastSeq).
		Str("remote", r.RemoteAddr).
		Msg("event subscriber connected")

	// Reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.C():
			if !ok {
				// Dropped by the bus (slow consumer or shutdown).
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "resync required"),
					deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
