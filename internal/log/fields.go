// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldCamera        = "camera"
	FieldRecordingID   = "recording_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldVariant   = "variant"

	// Media / stream fields
	FieldCodec      = "codec"
	FieldResolution = "resolution"
	FieldFPS        = "fps"
	FieldEncoder    = "encoder"
	FieldDevice     = "device"
	FieldBitrate    = "bitrate"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldRetry    = "retry"

	// Path / URL fields
	FieldPath      = "path"
	FieldBrokerURL = "broker_url"

	// Event bus fields
	FieldSeq       = "seq"
	FieldEventType = "event_type"
)
