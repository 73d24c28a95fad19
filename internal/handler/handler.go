// Package handler wires the lifecycle handlers onto the event bus:
// pre_download and download on pool1, downloaded on pool1, upload on pool2.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/event"
	"github.com/livearc/livearc/internal/hook"
	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/namedlock"
	"github.com/livearc/livearc/internal/persistence"
	"github.com/livearc/livearc/internal/plugin"
	"github.com/livearc/livearc/internal/recorder"
	"github.com/livearc/livearc/internal/uploader"
	"github.com/livearc/livearc/internal/watch"
)

// Deps carries everything the handlers close over.
type Deps struct {
	Bus      *event.Bus
	Registry *plugin.Registry
	Store    persistence.Store
	Table    *watch.Table
	Locks    *namedlock.Registry
	Holder   *config.Holder
	Uploads  *uploader.Manager

	// RunSession overrides the recording session in tests. nil means a real
	// recorder session.
	RunSession func(ctx context.Context, name, url string, cfg config.Streamer) *event.StreamInfo
}

type handlers struct {
	Deps
	logger zerolog.Logger
}

// Register subscribes the four lifecycle handlers. Must run before Bus.Start.
func Register(d Deps) {
	h := &handlers{Deps: d, logger: log.WithComponent("handler")}
	if h.RunSession == nil {
		h.RunSession = h.runRecorderSession
	}
	d.Bus.Subscribe(event.PreDownload, event.Pool1, h.preDownload)
	d.Bus.Subscribe(event.Download, event.Pool1, h.download)
	d.Bus.Subscribe(event.Downloaded, event.Pool1, h.downloaded)
	d.Bus.Subscribe(event.Upload, event.Pool2, h.upload)
}

// preDownload guards against an active recording, runs the preprocessor
// chain and hands over to DOWNLOAD.
func (h *handlers) preDownload(ctx context.Context, ev event.Event) []event.Event {
	if h.Table.State(ev.URL) == watch.Downloading {
		return nil
	}
	cfg := h.Holder.Get().Merged(ev.Name)
	if len(cfg.Preprocessor) > 0 {
		payload, _ := json.Marshal(map[string]string{
			"name":       ev.Name,
			"url":        ev.URL,
			"start_time": time.Now().Format(time.RFC3339),
		})
		hook.RunSteps(ctx, cfg.Preprocessor, string(payload))
	}
	return []event.Event{event.NewDownload(ev.Name, ev.URL)}
}

// download claims the URL, runs the recording session and always restores
// the URL to idle. At most one session per URL can hold the claim.
func (h *handlers) download(ctx context.Context, ev event.Event) []event.Event {
	claimed := false
	h.Locks.Do("url_status_"+ev.URL, func() {
		if h.Table.State(ev.URL) == watch.Idle {
			h.Table.SetState(ev.URL, watch.Downloading)
			claimed = true
		}
	})
	if !claimed {
		return nil
	}
	defer h.Locks.Do("url_status_"+ev.URL, func() {
		h.Table.SetState(ev.URL, watch.Idle)
	})

	cfg := h.Holder.Get().Merged(ev.Name)
	info := h.RunSession(ctx, ev.Name, ev.URL, cfg)
	if info == nil {
		return nil
	}
	return []event.Event{event.NewDownloaded(info)}
}

func (h *handlers) runRecorderSession(ctx context.Context, name, url string, cfg config.Streamer) *event.StreamInfo {
	s, err := recorder.NewSession(name, url, cfg, h.Registry.Route(url), h.Store, h.Holder.Get().WorkDir, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("streamer", name).Msg("session setup failed")
		return nil
	}
	return s.Run(ctx)
}

// downloaded runs the downloaded_processor chain with the session summary
// and queues the upload.
func (h *handlers) downloaded(ctx context.Context, ev event.Event) []event.Event {
	info := ev.Info
	if info == nil {
		return nil
	}
	cfg := h.Holder.Get().Merged(info.Name)
	if len(cfg.DownloadedProcessor) > 0 {
		var fileList []string
		if rec, err := h.Store.GetLatestByStreamer(ctx, info.Name); err == nil {
			if files, ferr := h.Store.GetFiles(ctx, rec.ID); ferr == nil {
				fileList = files
			}
		}
		payload, _ := json.Marshal(map[string]any{
			"name":       info.Name,
			"url":        info.URL,
			"room_title": info.Title,
			"start_time": info.Start.Format(time.RFC3339),
			"end_time":   info.End.Format(time.RFC3339),
			"file_list":  fileList,
		})
		hook.RunSteps(ctx, cfg.DownloadedProcessor, string(payload))
	}
	return []event.Event{event.NewUpload(info)}
}

func (h *handlers) upload(ctx context.Context, ev event.Event) []event.Event {
	info := ev.Info
	if info == nil {
		info = &event.StreamInfo{Name: ev.Name, URL: ev.URL}
	}
	return h.Uploads.HandleUpload(ctx, info)
}
