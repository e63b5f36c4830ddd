// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"context"
	"errors"
	"strings"
)

// MessageKind classifies asynchronous graph notifications.
type MessageKind int

const (
	// MsgRunning confirms the graph reached PLAYING.
	MsgRunning MessageKind = iota
	// MsgEOS reports a drained graph after end-of-stream.
	MsgEOS
	// MsgWarning carries a non-fatal condition.
	MsgWarning
	// MsgError terminates the graph; Err is always set.
	MsgError
)

func (k MessageKind) String() string {
	switch k {
	case MsgRunning:
		return "running"
	case MsgEOS:
		return "eos"
	case MsgWarning:
		return "warning"
	case MsgError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one asynchronous notification from a running graph.
type Message struct {
	Kind MessageKind
	Err  error
}

// Graph is one realized media graph. Implementations: the go-gst
// pipeline (cgo builds) and test fakes.
type Graph interface {
	// Start realizes the graph and blocks until running is confirmed,
	// a fatal error occurs, or ctx expires.
	Start(ctx context.Context) error
	// Stop sends end-of-stream, waits for the drain bounded by ctx, then
	// forces NULL. Any open file is finalized. Safe to call twice.
	Stop(ctx context.Context) error
	// SetValve opens (start recording) or closes (finalize) the valve
	// branch. Only meaningful for tee-with-valve descriptions.
	SetValve(open bool) error
	// Messages delivers notifications after a successful Start. The
	// channel closes when the graph reaches NULL.
	Messages() <-chan Message
}

// Factory realizes a Description into a Graph. The supervisor and the
// recorder receive a Factory at construction so tests can substitute
// fakes for the GStreamer implementation.
type Factory func(desc Description) (Graph, error)

// ErrNoValve is returned by SetValve on graphs built without one.
var ErrNoValve = errors.New("graph has no valve branch")

// Transient error taxonomy: these categories trigger the supervisor's
// retry policy, everything else is fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "internal data stream error"):
		return true
	case strings.Contains(msg, "device or resource busy"),
		strings.Contains(msg, "device busy"):
		return true
	case strings.Contains(msg, "could not open device"),
		strings.Contains(msg, "timed out"):
		return true
	}
	return false
}
