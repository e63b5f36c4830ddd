// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

// Request and correlation IDs travel through context so that API,
// supervisor and recorder log lines for one operation can be joined.
// The API layer attaches the inbound request ID; components starting an
// operation attach a fresh correlation ID.

type idKey int

const (
	requestIDKey idKey = iota
	correlationIDKey
)

// ContextWithRequestID attaches the inbound HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithCorrelationID attaches an operation-scoped correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, requestIDKey)
}

// CorrelationIDFromContext returns the correlation ID, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, correlationIDKey)
}

func idFromContext(ctx context.Context, key idKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithIDs returns a child logger carrying whichever IDs ctx holds.
func WithIDs(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	c := l.With()
	if id := RequestIDFromContext(ctx); id != "" {
		c = c.Str(FieldRequestID, id)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		c = c.Str(FieldCorrelationID, id)
	}
	return c.Logger()
}
