package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/event"
	"github.com/livearc/livearc/internal/log"
)

// FileInfo is one upload candidate: a video file and its optional chat
// sidecar.
type FileInfo struct {
	Video   string
	Danmaku string // empty when no sidecar exists
}

// Uploader publishes finished segments to a video platform. Upload returns
// the files the adapter considers done; only those are handed to the
// postprocessor chain.
type Uploader interface {
	Upload(ctx context.Context, info *event.StreamInfo, files []FileInfo) ([]FileInfo, error)
}

// UploaderFactory builds an uploader from the merged streamer config.
type UploaderFactory func(cfg config.Streamer) (Uploader, error)

var (
	uploaderMu        sync.RWMutex
	uploaderFactories = map[string]UploaderFactory{}
)

// RegisterUploader registers an upload adapter under its platform name.
// Leaf adapter packages call this from init.
func RegisterUploader(platform string, f UploaderFactory) {
	uploaderMu.Lock()
	defer uploaderMu.Unlock()
	uploaderFactories[platform] = f
}

// NewUploader builds the upload adapter for the platform named in cfg. An
// empty platform name selects the no-op uploader.
func NewUploader(cfg config.Streamer) (Uploader, error) {
	platform := cfg.Uploader
	if platform == "" {
		platform = "noop"
	}
	uploaderMu.RLock()
	f, ok := uploaderFactories[platform]
	uploaderMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown upload platform %q", platform)
	}
	return f(cfg)
}

// noopUploader uploads nothing and reports nothing done, so files stay on
// disk for a configured adapter to pick up later.
type noopUploader struct{}

func (noopUploader) Upload(_ context.Context, info *event.StreamInfo, files []FileInfo) ([]FileInfo, error) {
	l := log.WithComponent("upload.noop")
	l.Info().
		Str("streamer", info.Name).
		Int("files", len(files)).
		Msg("no upload platform configured, leaving files in place")
	return nil, nil
}

func init() {
	RegisterUploader("noop", func(config.Streamer) (Uploader, error) {
		return noopUploader{}, nil
	})
}
