package uploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/event"
	"github.com/livearc/livearc/internal/hook"
	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/metrics"
	"github.com/livearc/livearc/internal/namedlock"
	"github.com/livearc/livearc/internal/persistence"
	"github.com/livearc/livearc/internal/plugin"
	"github.com/livearc/livearc/internal/watch"
)

// Manager runs upload sessions. One instance serves the whole process; the
// in-flight stems set it guards is what keeps concurrent upload handlers
// from double-scanning the same files.
type Manager struct {
	store  persistence.Store
	table  *watch.Table
	locks  *namedlock.Registry
	holder *config.Holder
	logger zerolog.Logger

	workdir   string
	delay     time.Duration
	threshold int64 // bytes

	inflight map[string]bool // guarded by the upload_filename named mutex

	// newUploader is swappable in tests.
	newUploader func(cfg config.Streamer) (plugin.Uploader, error)
}

func NewManager(store persistence.Store, table *watch.Table, locks *namedlock.Registry, holder *config.Holder) *Manager {
	cfg := holder.Get()
	return &Manager{
		store:       store,
		table:       table,
		locks:       locks,
		holder:      holder,
		logger:      log.WithComponent("uploader"),
		workdir:     cfg.WorkDir,
		delay:       time.Duration(cfg.Delay) * time.Second,
		threshold:   cfg.FilteringThreshold << 20,
		inflight:    make(map[string]bool),
		newUploader: plugin.NewUploader,
	}
}

// WithUploaderFactory swaps the upload adapter constructor. Tests use this
// to capture upload calls.
func (m *Manager) WithUploaderFactory(f func(cfg config.Streamer) (plugin.Uploader, error)) *Manager {
	m.newUploader = f
	return m
}

// HandleUpload processes one UPLOAD event. Returned events are follow-ups
// for the bus; errors are fully absorbed here.
func (m *Manager) HandleUpload(ctx context.Context, info *event.StreamInfo) []event.Event {
	name, url := info.Name, info.URL
	logger := m.logger.With().Str("streamer", name).Logger()

	// Only one upload session per URL at a time.
	claimed := false
	m.locks.Do("upload_count_"+url, func() {
		if m.table.UploadCount(url) == 0 {
			m.table.IncUpload(url)
			claimed = true
		}
	})
	if !claimed {
		metrics.UploadsTotal.WithLabelValues("skipped").Inc()
		logger.Debug().Str("url", url).Msg("upload already in flight")
		return nil
	}
	defer m.locks.Do("upload_count_"+url, func() { m.table.DecUpload(url) })

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.delay):
		}
		if m.table.State(url) == watch.Downloading {
			// A new recording took over during the delay; the next
			// DOWNLOADED will retry.
			metrics.UploadsTotal.WithLabelValues("skipped").Inc()
			return nil
		}
	}

	var (
		files []plugin.FileInfo
		stems []string
		err   error
	)
	m.locks.Do("upload_file_list_"+name, func() {
		files, stems, err = m.scan(ctx, name)
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("file enumeration failed")
		return nil
	}
	defer m.releaseStems(stems)

	if len(files) == 0 {
		metrics.UploadsTotal.WithLabelValues("empty").Inc()
		return nil
	}

	m.recoverTitle(ctx, info, files)

	cfg := m.holder.Get().Merged(name)
	up, err := m.newUploader(cfg)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Str("platform", cfg.Uploader).Msg("no upload adapter")
		return nil
	}

	done, err := up.Upload(ctx, info, files)
	if err != nil {
		// Files stay on disk; the next DOWNLOADED retries.
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Int("files", len(files)).Msg("upload failed")
		return nil
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	metrics.UploadedFilesTotal.Add(float64(len(done)))
	logger.Info().Int("files", len(done)).Msg("upload finished")

	m.postprocess(ctx, cfg.Postprocessor, info, done)
	if len(done) == 0 {
		return nil
	}
	return []event.Event{event.NewUploaded(info)}
}

// recoverTitle fills a missing title from the recording row of any candidate
// file, so uploads of leftovers from a crashed run still carry metadata.
func (m *Manager) recoverTitle(ctx context.Context, info *event.StreamInfo, files []plugin.FileInfo) {
	if info.Title != "" {
		return
	}
	for _, f := range files {
		rec, err := m.store.GetByFileName(ctx, filepath.Base(f.Video))
		if err != nil {
			if !errors.Is(err, persistence.ErrNotFound) {
				m.logger.Warn().Err(err).Msg("title recovery lookup failed")
			}
			continue
		}
		info.Title = rec.Title
		if info.Start.IsZero() {
			info.Start = rec.StartTime
		}
		if info.CoverPath == "" {
			info.CoverPath = rec.CoverPath
		}
		return
	}
}

// postprocess applies the streamer's postprocessor chain to the files the
// adapter reported done. Without a chain the files and the cover are simply
// deleted. Step failures are logged; later steps still run.
func (m *Manager) postprocess(ctx context.Context, chain hook.Chain, info *event.StreamInfo, done []plugin.FileInfo) {
	if len(done) == 0 {
		return
	}
	if len(chain) == 0 {
		m.removeFiles(done, info.CoverPath)
		return
	}
	for _, step := range chain {
		switch {
		case step.Rm:
			m.removeFiles(done, info.CoverPath)
		case step.Mv != "":
			m.moveFiles(done, step.Mv)
		case step.Run != "":
			payload := joinPaths(done)
			hook.RunSteps(ctx, hook.Chain{step}, payload)
		}
	}
}

func (m *Manager) removeFiles(done []plugin.FileInfo, coverPath string) {
	for _, f := range done {
		if err := os.Remove(f.Video); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn().Err(err).Str("file", f.Video).Msg("remove failed")
		}
		if f.Danmaku != "" {
			if err := os.Remove(f.Danmaku); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn().Err(err).Str("file", f.Danmaku).Msg("remove failed")
			}
		}
	}
	if coverPath != "" {
		if err := os.Remove(coverPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn().Err(err).Str("file", coverPath).Msg("cover remove failed")
		}
	}
}

func (m *Manager) moveFiles(done []plugin.FileInfo, dest string) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		m.logger.Warn().Err(err).Str("dir", dest).Msg("archive dir create failed")
		return
	}
	move := func(path string) {
		if path == "" {
			return
		}
		target := filepath.Join(dest, filepath.Base(path))
		if err := os.Rename(path, target); err != nil {
			m.logger.Warn().Err(err).Str("file", path).Msg("move failed")
		}
	}
	for _, f := range done {
		move(f.Video)
		move(f.Danmaku)
	}
}

// joinPaths renders the postprocessor stdin payload: absolute paths, one per
// line, videos and sidecars interleaved in order.
func joinPaths(done []plugin.FileInfo) string {
	var sb strings.Builder
	for _, f := range done {
		for _, p := range []string{f.Video, f.Danmaku} {
			if p == "" {
				continue
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				abs = p
			}
			sb.WriteString(abs)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
