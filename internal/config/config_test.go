package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
workdir: /tmp/rec
streamers:
  alice:
    url: https://example/ch/1
    segment_time: "00:00:10"
    postprocessor: [{mv: ./archive}]
  bob:
    url:
      - https://example/ch/2
      - https://example/ch/3
    downloader: ffmpeg
    format: mp4
`

func TestParseAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.EventLoopInterval)
	assert.Equal(t, 15, cfg.CheckSourcecode)
	assert.Equal(t, 5, cfg.Pool1Size)
	assert.Equal(t, 3, cfg.Pool2Size)
	assert.Equal(t, DownloaderNative, cfg.Downloader)

	assert.Equal(t, StringList{"https://example/ch/1"}, cfg.Streamers["alice"].URL)
	assert.Equal(t, StringList{"https://example/ch/2", "https://example/ch/3"}, cfg.Streamers["bob"].URL)
	assert.Equal(t, "./archive", cfg.Streamers["alice"].Postprocessor[0].Mv)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("streamers:\n  a:\n    url: u\n    bogus_field: 1\n"))
	assert.Error(t, err)
}

func TestValidateDuplicateURL(t *testing.T) {
	_, err := Parse([]byte(`
streamers:
  alice:
    url: https://example/ch/1
  bob:
    url: https://example/ch/1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claimed by both")
}

func TestIndex(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	idx, err := cfg.Index()
	require.NoError(t, err)
	want := URLIndex{
		"https://example/ch/1": "alice",
		"https://example/ch/2": "bob",
		"https://example/ch/3": "bob",
	}
	if diff := cmp.Diff(want, idx); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestMergedFallsBackToGlobals(t *testing.T) {
	cfg, err := Parse([]byte(`
segment_time: "01:00:00"
downloader: ffmpeg
use_live_cover: true
streamers:
  alice:
    url: https://example/ch/1
    segment_time: "00:10:00"
  bob:
    url: https://example/ch/2
`))
	require.NoError(t, err)

	alice := cfg.Merged("alice")
	assert.Equal(t, "00:10:00", alice.SegmentTime)
	assert.Equal(t, "ffmpeg", alice.Downloader)
	assert.True(t, *alice.UseLiveCover)

	bob := cfg.Merged("bob")
	assert.Equal(t, "01:00:00", bob.SegmentTime)
}

func TestHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livearc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	initial, err := Load(path)
	require.NoError(t, err)
	h := NewHolder(initial, path)

	var gotOld, gotNew *Config
	h.OnChange(func(old, new *Config) { gotOld, gotNew = old, new })

	// Invalid file: previous config stays active.
	require.NoError(t, os.WriteFile(path, []byte("streamers: {}"), 0o644))
	require.Error(t, h.Reload())
	assert.Same(t, initial, h.Get())
	assert.Nil(t, gotNew)

	require.NoError(t, os.WriteFile(path, []byte(sample+"  carol:\n    url: https://example/ch/9\n"), 0o644))
	require.NoError(t, h.Reload())
	assert.Same(t, initial, gotOld)
	assert.Len(t, gotNew.Streamers, 3)
	assert.Same(t, gotNew, h.Get())
}
