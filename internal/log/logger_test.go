// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWithComponent(t *testing.T) {
	l := WithComponent("ingest")
	assert.NotNil(t, l)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithCorrelationID(ctx, "corr-1")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
}

func TestContextMissing(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "", CorrelationIDFromContext(nil)) //nolint:staticcheck
}

func TestWithIDsCarriesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithRequestID(context.Background(), "req-9")
	ctx = ContextWithCorrelationID(ctx, "corr-9")

	l := WithIDs(ctx, zerolog.New(&buf))
	l.Info().Msg("joined")

	assert.Contains(t, buf.String(), `"request_id":"req-9"`)
	assert.Contains(t, buf.String(), `"correlation_id":"corr-9"`)
}

func TestWithIDsEmptyContextAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	l := WithIDs(context.Background(), zerolog.New(&buf))
	l.Info().Msg("bare")
	assert.NotContains(t, buf.String(), "request_id")
	assert.NotContains(t, buf.String(), "correlation_id")
}
