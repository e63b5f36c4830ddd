// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorRendering(t *testing.T) {
	err := Ef(KindSessionConflict, "session %s is recording", "s1")
	assert.Equal(t, "session-conflict: session s1 is recording", err.Error())

	wrapped := E(KindPipelineStart, "graph refused", errors.New("no such element"))
	assert.Contains(t, wrapped.Error(), "no such element")
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := Ef(KindStorageInsufficient, "3 GB free")
	outer := fmt.Errorf("start session: %w", inner)

	assert.Equal(t, KindStorageInsufficient, KindOf(outer))
	assert.True(t, IsKind(outer, KindStorageInsufficient))
	assert.False(t, IsKind(outer, KindSessionConflict))
}

func TestKindOfUnknown(t *testing.T) {
	assert.Equal(t, KindPipelineRuntime, KindOf(errors.New("boom")))
}
