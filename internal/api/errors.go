// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/camcore/internal/core"
)

// errorBody is the wire shape of every error response. The error field
// carries the stable kind; detail is human-readable.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error-kind onto an HTTP status and renders the
// standard error body.
func writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	writeJSON(w, statusForKind(kind), errorBody{
		Error:  string(kind),
		Detail: err.Error(),
	})
}

func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindInvalidArgument:
		return http.StatusBadRequest
	case core.KindSessionConflict, core.KindDeviceBusy:
		return http.StatusConflict
	case core.KindNoSignal:
		return http.StatusPreconditionFailed
	case core.KindStorageInsufficient, core.KindStorageCritical:
		return http.StatusInsufficientStorage
	case core.KindBrokerUnreachable, core.KindCapsUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
