// Package recorder runs one recording session per DOWNLOAD event: it resolves
// the stream, drives a recording backend, fires per-segment callbacks and
// finalizes the session with cover download and a DOWNLOADED payload.
package recorder

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/livearc/livearc/internal/config"
)

// defaultFileSizeLimit caps a segment when neither segment_time nor file_size
// is configured.
const defaultFileSizeLimit int64 = 8 << 30 // 8 GiB

// Job carries everything one record() invocation needs.
type Job struct {
	StreamURL string
	Headers   http.Header
	// NextName yields a fresh unique target path (with container suffix,
	// without .part). Called once per segment.
	NextName func() (string, error)
	Suffix   string

	SegmentDuration time.Duration // zero: no duration cut
	FileSizeLimit   int64         // bytes, zero: no size cut
	OptArgs         []string      // extra recorder arguments, passed through
	WorkDir         string
}

// Backend records a resolved stream until it ends or the context is
// cancelled, invoking onSegment with each finished segment's final path.
// A clean stream end returns nil.
type Backend interface {
	Record(ctx context.Context, j Job, onSegment func(path string)) error
}

// NewBackend selects the backend for a downloader name from configuration.
func NewBackend(downloader string) (Backend, error) {
	switch downloader {
	case "", config.DownloaderNative:
		return &nativeBackend{client: &http.Client{}}, nil
	case config.DownloaderFFmpeg:
		return &ffmpegBackend{}, nil
	case config.DownloaderFFmpegSegment:
		return &ffmpegBackend{segmented: true}, nil
	default:
		return nil, fmt.Errorf("recorder: unknown downloader %q", downloader)
	}
}

// ParseSegmentTime parses the HH:MM:SS segment_time notation.
func ParseSegmentTime(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("recorder: segment_time %q is not HH:MM:SS: %w", s, err)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	if d <= 0 {
		return 0, fmt.Errorf("recorder: segment_time %q must be positive", s)
	}
	return d, nil
}
