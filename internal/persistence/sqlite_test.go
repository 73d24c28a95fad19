package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "livearc.sqlite3"), DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordingRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	id, err := s.AddRecording(ctx, "alice", "https://example/ch/1", start)
	require.NoError(t, err)
	require.NoError(t, s.UpdateTitle(ctx, id, "evening stream"))
	require.NoError(t, s.UpdateCoverPath(ctx, id, "cover/fake/alice/x.jpg"))
	require.NoError(t, s.AppendFile(ctx, id, "alice2026-03-01T20_00_00.flv"))
	require.NoError(t, s.AppendFile(ctx, id, "alice2026-03-01T20_10_00.flv"))

	rec, err := s.GetLatestByStreamer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "evening stream", rec.Title)
	assert.Equal(t, "cover/fake/alice/x.jpg", rec.CoverPath)
	assert.Equal(t, start.Unix(), rec.StartTime.Unix())

	files, err := s.GetFiles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice2026-03-01T20_00_00.flv", "alice2026-03-01T20_10_00.flv"}, files)
}

func TestGetByFileName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddRecording(ctx, "alice", "https://example/ch/1", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.UpdateTitle(ctx, id, "lost title recovery"))
	require.NoError(t, s.AppendFile(ctx, id, "alice-seg1.flv"))

	rec, err := s.GetByFileName(ctx, "alice-seg1.flv")
	require.NoError(t, err)
	assert.Equal(t, "lost title recovery", rec.Title)

	_, err = s.GetByFileName(ctx, "nope.flv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetLatestPicksNewestRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddRecording(ctx, "alice", "https://example/ch/1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	id2, err := s.AddRecording(ctx, "alice", "https://example/ch/1", time.Now())
	require.NoError(t, err)

	rec, err := s.GetLatestByStreamer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id2, rec.ID)

	_, err = s.GetLatestByStreamer(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetKV(ctx, "settings")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutKV(ctx, "settings", `{"a":1}`))
	require.NoError(t, s.PutKV(ctx, "settings", `{"a":2}`))
	v, err := s.GetKV(ctx, "settings")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, v)
}

func TestConcurrentAppends(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.AddRecording(ctx, "alice", "https://example/ch/1", time.Now())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AppendFile(ctx, id, "seg"+string(rune('a'+i))+".flv"))
		}(i)
	}
	wg.Wait()

	files, err := s.GetFiles(ctx, id)
	require.NoError(t, err)
	assert.Len(t, files, 20)
}
