package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/tamil-captioner/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_SaveOpen(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	key := "2026-10-19/abc/captions.srt"
	require.NoError(t, s.Save(ctx, key, []byte("1\n00:00:00,000 --> 00:00:01,000\nx\n\n"), "text/plain"))
	assert.True(t, s.Exists(ctx, key))

	r, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,000\nx\n\n", string(data))

	// overwrite is atomic and leaves no temp files behind
	require.NoError(t, s.Save(ctx, key, []byte("new"), "text/plain"))
	entries, err := os.ReadDir(filepath.Join(s.Dir(), "2026-10-19", "abc"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	url, err := s.URL(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, url)
	assert.Equal(t, "local", s.Type())
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	for _, key := range []string{"../outside.srt", "/etc/passwd", "a/../../b", ""} {
		assert.ErrorIs(t, s.Save(ctx, key, []byte("x"), ""), ErrInvalidKey, key)
		_, err := s.Open(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
		assert.False(t, s.Exists(ctx, key), key)
	}
}

func TestLocalStore_OpenMissing(t *testing.T) {
	_, err := NewLocalStore(t.TempDir()).Open(context.Background(), "2026-01-01/x/captions.srt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKey(t *testing.T) {
	id, err := uuid.NewV7()
	require.NoError(t, err)

	created := JobTime(id)
	assert.WithinDuration(t, time.Now(), created, time.Minute)

	want := created.Format("2006-01-02") + "/" + id.String() + "/captions.srt"
	assert.Equal(t, want, Key(id, "captions.srt"))
}

func TestJobTime_NonV7(t *testing.T) {
	assert.True(t, JobTime(uuid.New()).IsZero())
}

func TestPruner_RemovesExpired(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "2026-10-01/old/captions.srt", []byte("old"), ""))
	require.NoError(t, s.Save(ctx, "2026-10-19/new/captions.srt", []byte("new"), ""))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "2026-10-01", "old", "captions.srt"), past, past))

	p := NewPruner(dir, 24*time.Hour, nil, zerolog.Nop())
	assert.Equal(t, 1, p.Prune())

	assert.False(t, s.Exists(ctx, "2026-10-01/old/captions.srt"))
	assert.True(t, s.Exists(ctx, "2026-10-19/new/captions.srt"))
	_, err := os.Stat(filepath.Join(dir, "2026-10-01"))
	assert.ErrorIs(t, err, os.ErrNotExist, "empty date directory should be removed")
}

func TestPruner_ZeroRetentionKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewLocalStore(dir).Save(context.Background(), "d/j/captions.srt", []byte("x"), ""))
	assert.Zero(t, NewPruner(dir, 0, nil, zerolog.Nop()).Prune())
}

func TestNew_LocalMode(t *testing.T) {
	dir := t.TempDir()
	store, services, err := New(config.S3Config{}, dir, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local", store.Type())
	require.Len(t, services, 1)
	_, ok := services[0].(*Pruner)
	assert.True(t, ok)

	_, services, err = New(config.S3Config{}, dir, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestHumanizeBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanizeBytes(tt.in))
	}
}

func TestContentTypeFromExt(t *testing.T) {
	assert.Equal(t, "text/plain; charset=utf-8", contentTypeFromExt(".srt"))
	assert.Equal(t, "text/plain; charset=utf-8", contentTypeFromExt(".txt"))
	assert.Equal(t, "application/json", contentTypeFromExt(".json"))
	assert.Equal(t, "application/octet-stream", contentTypeFromExt(".bin"))
}
