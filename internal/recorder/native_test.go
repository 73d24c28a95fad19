package recorder

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeBackendCutsOnSizeLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	namer := NewNamer(dir, "seg%H_%M_%S", "alice", "", "u", "flv", time.Now())
	var segments []string
	job := Job{
		StreamURL:     srv.URL,
		NextName:      namer.Next,
		Suffix:        "flv",
		FileSizeLimit: 40_000,
		WorkDir:       dir,
	}

	b := &nativeBackend{client: srv.Client()}
	err := b.Record(context.Background(), job, func(path string) {
		segments = append(segments, path)
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(segments), 2, "100k at a 40k cap needs multiple cuts")

	var total int64
	for _, p := range segments {
		fi, err := os.Stat(p)
		require.NoError(t, err)
		total += fi.Size()
	}
	assert.EqualValues(t, len(payload), total, "no stream bytes lost across cuts")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), "no .part left after a clean end")
	}
}

func TestNativeBackendPropagatesHeaders(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	namer := NewNamer(dir, "seg", "alice", "", "u", "flv", time.Now())
	job := Job{
		StreamURL: srv.URL,
		Headers:   http.Header{"Cookie": []string{"session=abc"}},
		NextName:  namer.Next,
		Suffix:    "flv",
		WorkDir:   dir,
	}

	b := &nativeBackend{client: srv.Client()}
	require.NoError(t, b.Record(context.Background(), job, func(string) {}))
	assert.Equal(t, "session=abc", gotCookie)
}

func TestNativeBackendBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	namer := NewNamer(dir, "seg", "alice", "", "u", "flv", time.Now())
	b := &nativeBackend{client: srv.Client()}
	err := b.Record(context.Background(), Job{StreamURL: srv.URL, NextName: namer.Next, Suffix: "flv", WorkDir: dir}, func(string) {})
	assert.Error(t, err)

	entries, rerr := os.ReadDir(dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "nothing written on a rejected stream")
}

func TestNativeBackendEmptySegmentNotReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	dir := t.TempDir()
	namer := NewNamer(dir, "seg", "alice", "", "u", "flv", time.Now())
	var segments []string
	b := &nativeBackend{client: srv.Client()}
	err := b.Record(context.Background(), Job{StreamURL: srv.URL, NextName: namer.Next, Suffix: "flv", WorkDir: dir}, func(p string) {
		segments = append(segments, p)
	})
	require.NoError(t, err)
	assert.Empty(t, segments, "a zero-byte stream yields no segment")
	assert.NoFileExists(t, filepath.Join(dir, "seg.flv.part"))
}
