package recorder

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/danmaku"
	"github.com/livearc/livearc/internal/event"
	"github.com/livearc/livearc/internal/hook"
	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/metrics"
	"github.com/livearc/livearc/internal/persistence"
	"github.com/livearc/livearc/internal/plugin"
)

// Session is one start-to-finish recording lifecycle for a URL. It polls the
// adapter, records until the stream ends, restarts on transient failures and
// finalizes with the cover download and a DOWNLOADED payload.
type Session struct {
	name    string
	url     string
	cfg     config.Streamer
	factory *plugin.Factory
	store   persistence.Store
	workdir string
	backend Backend
	logger  zerolog.Logger

	segmentDur time.Duration

	start    time.Time
	recID    int64
	title    string
	coverURL string
	dm       danmaku.Client

	lastStreamURL string
	lastLiveStart time.Time

	segWG        sync.WaitGroup
	hookMu       sync.Mutex
	hookSem      *semaphore.Weighted
	healthClient *http.Client
}

// parallelHookLimit caps concurrent segment hook processes per session.
const parallelHookLimit = 4

// NewSession builds a session for one DOWNLOAD event. backend may be nil, in
// which case the streamer's configured downloader is used.
func NewSession(name, url string, cfg config.Streamer, factory *plugin.Factory, store persistence.Store, workdir string, backend Backend) (*Session, error) {
	segDur, err := ParseSegmentTime(cfg.SegmentTime)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		backend, err = NewBackend(cfg.Downloader)
		if err != nil {
			return nil, err
		}
	}
	return &Session{
		name:         name,
		url:          url,
		cfg:          cfg,
		factory:      factory,
		store:        store,
		workdir:      workdir,
		backend:      backend,
		segmentDur:   segDur,
		logger:       log.WithComponent("recorder").With().Str("streamer", name).Logger(),
		hookSem:      semaphore.NewWeighted(parallelHookLimit),
		healthClient: &http.Client{},
	}, nil
}

// Run executes the session until the stream permanently ends or ctx is
// cancelled. It always returns a StreamInfo suitable for the DOWNLOADED
// event, even when nothing was recorded.
func (s *Session) Run(ctx context.Context) *event.StreamInfo {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	s.start = time.Now()
	info := &event.StreamInfo{Name: s.name, URL: s.url, Start: s.start, IsDownload: s.cfg.IsDownload}
	defer s.close(info)

	for ctx.Err() == nil {
		if !s.runOnce(ctx) {
			break
		}
		if s.cfg.IsDownload {
			break
		}
	}
	return info
}

// runOnce is one probe-and-record cycle. It reports whether the session
// should poll again: a recording error is treated as the stream ending and
// triggers a re-probe; an offline or failed probe ends the session.
func (s *Session) runOnce(ctx context.Context) bool {
	adapter := s.factory.New(s.name, s.url, s.cfg)
	defer adapter.Close()

	live, err := adapter.Probe(ctx, false)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("resolve probe failed")
		}
		return false
	}
	if !live {
		return false
	}

	if t := adapter.RoomTitle(); t != "" {
		s.title = t
	}
	if c := adapter.CoverURL(); c != "" {
		s.coverURL = c
	}
	s.persistOnce(ctx)

	streamURL := s.resolveStreamURL(ctx, adapter)
	if streamURL == "" {
		s.logger.Warn().Msg("probe reported live but no stream url")
		return false
	}

	suffix := s.cfg.Format
	if suffix == "" {
		suffix = adapter.Suffix()
	}
	namer := NewNamer(s.workdir, s.cfg.FilenamePrefix, s.name, s.title, s.url, suffix, time.Now())
	job := Job{
		StreamURL:       streamURL,
		Headers:         adapter.Headers(),
		NextName:        namer.Next,
		Suffix:          suffix,
		SegmentDuration: s.segmentDur,
		FileSizeLimit:   s.cfg.FileSize,
		OptArgs:         s.cfg.OptArgs,
		WorkDir:         s.workdir,
	}
	if err := s.backend.Record(ctx, job, s.onSegment); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("recording ended with error")
	}

	s.lastStreamURL = streamURL
	s.lastLiveStart = adapter.LiveStart()
	return ctx.Err() == nil
}

// persistOnce creates the recording row and starts chat capture on the first
// live probe of the session.
func (s *Session) persistOnce(ctx context.Context) {
	if s.recID != 0 {
		return
	}
	id, err := s.store.AddRecording(ctx, s.name, s.url, s.start)
	if err != nil {
		s.logger.Error().Err(err).Msg("persist recording row failed")
		return
	}
	s.recID = id
	if s.title != "" {
		if err := s.store.UpdateTitle(ctx, id, s.title); err != nil {
			s.logger.Warn().Err(err).Msg("persist title failed")
		}
	}
	if dm := danmaku.New(s.url); dm != nil {
		if err := dm.Start(ctx, s.url); err != nil {
			s.logger.Warn().Err(err).Msg("chat capture failed to start")
		} else {
			s.dm = dm
		}
	}
}

// resolveStreamURL reuses the previously resolved stream URL when the stream
// has not restarted since and the URL still answers a health check;
// otherwise it takes the adapter's fresh resolution.
func (s *Session) resolveStreamURL(ctx context.Context, adapter plugin.Adapter) string {
	if s.lastStreamURL != "" && !s.lastLiveStart.IsZero() &&
		adapter.LiveStart().Equal(s.lastLiveStart) &&
		s.healthCheck(ctx, s.lastStreamURL, adapter.Headers()) {
		return s.lastStreamURL
	}
	return adapter.StreamURL()
}

func (s *Session) healthCheck(ctx context.Context, url string, headers http.Header) bool {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := s.healthClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

// onSegment runs once per finished segment, on a dedicated worker goroutine:
// persist the file name, save the chat sidecar, then the segment hook chain.
// Hooks run serially unless segment_processor_parallel is set. Failures are
// logged; the session is never aborted by its segment workers.
func (s *Session) onSegment(path string) {
	metrics.SegmentsTotal.WithLabelValues(s.factory.Name).Inc()
	serial := s.cfg.SegmentProcessorParallel == nil || !*s.cfg.SegmentProcessorParallel

	s.segWG.Add(1)
	go func() {
		defer s.segWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if s.recID != 0 {
			if err := s.store.AppendFile(ctx, s.recID, filepath.Base(path)); err != nil {
				s.logger.Error().Err(err).Str("file", path).Msg("persist segment failed")
			}
		}
		if s.dm != nil {
			sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".xml"
			if err := s.dm.Save(sidecar); err != nil {
				s.logger.Warn().Err(err).Str("file", sidecar).Msg("chat save failed")
			}
		}
		if len(s.cfg.SegmentProcessor) == 0 {
			return
		}
		payload, _ := json.Marshal(map[string]string{"name": s.name, "url": s.url, "file": path})
		if serial {
			s.hookMu.Lock()
			defer s.hookMu.Unlock()
		} else {
			if err := s.hookSem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.hookSem.Release(1)
		}
		hook.RunSteps(ctx, s.cfg.SegmentProcessor, string(payload))
	}()
}

// close finalizes the session: stop chat capture, fetch the cover at most
// once, join the segment workers, stamp the end time.
func (s *Session) close(info *event.StreamInfo) {
	if s.dm != nil {
		if err := s.dm.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("chat capture stop failed")
		}
	}
	if s.recID != 0 && s.coverURL != "" && s.cfg.UseLiveCover != nil && *s.cfg.UseLiveCover {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		base := NewNamer("", s.cfg.FilenamePrefix, s.name, s.title, s.url, "", s.start).Base()
		path, err := downloadCover(ctx, coverClient, s.coverURL, s.workdir, s.factory.Name, s.name, base)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cover download failed")
		} else {
			info.CoverPath = path
			if uerr := s.store.UpdateCoverPath(ctx, s.recID, path); uerr != nil {
				s.logger.Warn().Err(uerr).Msg("persist cover path failed")
			}
		}
		cancel()
	}
	s.segWG.Wait()
	info.Title = s.title
	info.End = time.Now()
}
