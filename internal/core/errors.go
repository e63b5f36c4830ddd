// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package core defines the error-kind taxonomy shared by all components.
// Kinds are stable wire identifiers: API error descriptors and bus
// events both carry them. Keep them in sync with clients.
package core

import (
	"errors"
	"fmt"
)

// Kind is a stable error category, not a Go type.
type Kind string

const (
	KindDeviceBusy          Kind = "device-busy"
	KindNoSignal            Kind = "no-signal"
	KindCapsUnavailable     Kind = "capabilities-unavailable"
	KindPipelineStart       Kind = "pipeline-start-failed"
	KindPipelineRuntime     Kind = "pipeline-runtime-error"
	KindStorageInsufficient Kind = "storage-insufficient"
	KindStorageCritical     Kind = "storage-critical"
	KindSessionConflict     Kind = "session-conflict"
	KindIdempotentReplay    Kind = "idempotent-replay" // informational
	KindStallDetected       Kind = "stall-detected"    // informational
	KindBrokerUnreachable   Kind = "broker-unreachable"
	KindInvalidArgument     Kind = "invalid-argument"
)

// Error pairs a stable kind with a human-readable message. Every failure
// surfaces exactly one of these on the bus and mirrors it to the caller.
type Error struct {
	Kind    Kind
	Message string
	wrapped error
}

// E builds an Error, optionally wrapping a cause.
func E(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, wrapped: cause}
}

// Ef builds an Error with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// KindOf extracts the kind from an error chain; unknown errors map to
// pipeline-runtime-error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindPipelineRuntime
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}
