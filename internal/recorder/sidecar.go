// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"encoding/json"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/camcore/internal/log"
)

// writeSidecar mirrors the session metadata next to its recordings as
// <root>/<session-id>.json. The write is atomic so a crash never leaves
// a torn sidecar beside finished files.
func (m *Manager) writeSidecar(info SessionInfo) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		m.logger.Warn().Str(log.FieldSessionID, info.ID).Err(err).Msg("sidecar encode failed")
		return
	}
	path := filepath.Join(m.cfg.Root, info.ID+".json")
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		m.logger.Warn().Str(log.FieldPath, path).Err(err).Msg("sidecar write failed")
	}
}
