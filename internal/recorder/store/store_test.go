// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	rec := SessionRecord{
		ID:             "session_20260824_103000",
		IdempotencyKey: "take-1",
		State:          "recording",
		StartedAt:      started,
		Recordings: []RecordingRecord{
			{Camera: "cam1", Path: "/rec/session_20260824_103000_cam1.mp4", State: "recording", StartedAt: started},
		},
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "take-1", got.IdempotencyKey)
	assert.Equal(t, started, got.StartedAt)
	assert.True(t, got.StoppedAt.IsZero())
	require.Len(t, got.Recordings, 1)
	assert.Equal(t, "cam1", got.Recordings[0].Camera)
}

func TestSaveIsUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := SessionRecord{ID: "s1", State: "recording", StartedAt: time.Now().UTC()}
	require.NoError(t, s.Save(ctx, rec))

	rec.State = "stopped"
	rec.StoppedAt = rec.StartedAt.Add(time.Minute)
	rec.Recordings = []RecordingRecord{{Camera: "cam1", State: "stopped", Bytes: 1 << 20}}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "stopped", got.State)
	assert.False(t, got.StoppedAt.IsZero())
	require.Len(t, got.Recordings, 1)
	assert.EqualValues(t, 1<<20, got.Recordings[0].Bytes)
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, SessionRecord{
			ID:        time.Duration(i).String() + "-session",
			State:     "stopped",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].StartedAt.After(got[1].StartedAt))
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "ghost")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
