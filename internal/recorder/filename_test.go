package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeIsFixedPoint(t *testing.T) {
	cases := []string{
		"alice2026-01-02T15_04_05",
		`【弾幕】「生放送」（テスト）・° [raw] 50%`,
		"a/b\\c:d*e?f\"g<h>i|j",
		"plain name with spaces",
	}
	for _, in := range cases {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "sanitize must be idempotent for %q", in)
	}
}

func TestSanitizeStripsPathSeparators(t *testing.T) {
	assert.Equal(t, "....etcpasswd", Sanitize("../../etc/passwd"))
}

func TestNamerExpandsPlaceholdersAndStrftime(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)
	n := NewNamer(dir, "{streamer}-{title}-%Y%m%d", "alice", "my room", "https://x/1", "flv", start)
	path, err := n.Next()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alice-my room-20260102.flv"), path)
}

func TestNamerDefaultsTitleToStreamer(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)
	n := NewNamer(dir, "{title}", "alice", "", "u", "flv", start)
	path, err := n.Next()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alice.flv"), path)
}

func TestNamerShiftsOnCollision(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)

	taken := filepath.Join(dir, "alice15_04_05.flv")
	require.NoError(t, os.WriteFile(taken, nil, 0o644))
	partTaken := filepath.Join(dir, "alice15_04_06.flv.part")
	require.NoError(t, os.WriteFile(partTaken, nil, 0o644))

	n := NewNamer(dir, "{streamer}%H_%M_%S", "alice", "", "u", "flv", start)
	path, err := n.Next()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alice15_04_07.flv"), path,
		"both the final name and the .part intermediate count as collisions")
}

func TestParseSegmentTime(t *testing.T) {
	d, err := ParseSegmentTime("01:30:10")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+30*time.Minute+10*time.Second, d)

	d, err = ParseSegmentTime("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseSegmentTime("90m")
	assert.Error(t, err)

	_, err = ParseSegmentTime("00:00:00")
	assert.Error(t, err)
}
