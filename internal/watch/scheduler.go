package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/event"
	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/metrics"
	"github.com/livearc/livearc/internal/namedlock"
	"github.com/livearc/livearc/internal/plugin"
	"github.com/livearc/livearc/internal/timer"
)

// Options tunes the scheduler's polling cadence. Zero values fall back to the
// production defaults; tests shrink them.
type Options struct {
	Interval      time.Duration // per-group pause between individual polls
	BatchInterval time.Duration // tick for batch-capable groups
	ProbeRate     rate.Limit    // probes per second across all groups
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = 30 * time.Second
	}
	if o.ProbeRate <= 0 {
		o.ProbeRate = rate.Every(time.Second)
	}
	return o
}

// Scheduler keeps one polling goroutine alive per adapter group. Individual
// groups round-robin their URLs; batch-capable groups check their whole URL
// list in one adapter call per tick.
type Scheduler struct {
	registry *plugin.Registry
	bus      *event.Bus
	table    *Table
	locks    *namedlock.Registry
	holder   *config.Holder
	opts     Options
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu     sync.Mutex
	groups map[string]*group
	index  map[string]string // url -> streamer key
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type group struct {
	factory *plugin.Factory
	cancel  context.CancelFunc

	mu   sync.Mutex
	urls []string
	next int
}

// advance returns the next URL in round-robin order and whether other URLs
// remain in the group. Empty groups return "".
func (g *group) advance() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.urls) == 0 {
		return "", false
	}
	if g.next >= len(g.urls) {
		g.next = 0
	}
	url := g.urls[g.next]
	g.next++
	return url, len(g.urls) > 1
}

func (g *group) snapshot() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.urls...)
}

func (g *group) add(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range g.urls {
		if u == url {
			return
		}
	}
	g.urls = append(g.urls, url)
}

// remove deletes url and reports whether the group is now empty.
func (g *group) remove(url string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, u := range g.urls {
		if u == url {
			g.urls = append(g.urls[:i], g.urls[i+1:]...)
			if g.next > i {
				g.next--
			}
			break
		}
	}
	return len(g.urls) == 0
}

func NewScheduler(registry *plugin.Registry, bus *event.Bus, table *Table, locks *namedlock.Registry, holder *config.Holder, opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		registry: registry,
		bus:      bus,
		table:    table,
		locks:    locks,
		holder:   holder,
		opts:     opts,
		limiter:  rate.NewLimiter(opts.ProbeRate, 1),
		logger:   log.WithComponent("watch"),
		groups:   make(map[string]*group),
		index:    make(map[string]string),
	}
}

// Start builds the groups from the current configuration and launches their
// polling goroutines.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	cfg := s.holder.Get()
	idx, err := cfg.Index()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, name := range idx {
		s.addLocked(name, url)
	}
	return nil
}

// Stop cancels every group task and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Add registers url under a streamer key, creating the adapter group and its
// task if needed. Synchronous with respect to scheduler state. Start must
// have been called first.
func (s *Scheduler) Add(name, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(name, url)
}

func (s *Scheduler) addLocked(name, url string) {
	s.index[url] = name
	f := s.registry.Route(url)
	g, ok := s.groups[f.Name]
	if ok {
		g.add(url)
		return
	}
	gctx, gcancel := context.WithCancel(s.ctx)
	g = &group{factory: f, cancel: gcancel, urls: []string{url}}
	s.groups[f.Name] = g
	s.wg.Add(1)
	if f.BatchCapable() {
		go s.runBatch(gctx, g)
	} else {
		go s.runIndividual(gctx, g)
	}
	s.logger.Info().Str("adapter", f.Name).Str("url", url).Msg("group task started")
}

// Delete removes url from its group; an emptied group's task is cancelled.
func (s *Scheduler) Delete(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, url)
	for name, g := range s.groups {
		if g.remove(url) {
			g.cancel()
			delete(s.groups, name)
			s.logger.Info().Str("adapter", name).Msg("group task cancelled, no urls left")
		}
	}
}

// Apply diffs the new configuration's URL set against the scheduler state,
// removing vanished URLs and adding new ones. Called on config reload.
func (s *Scheduler) Apply(cfg *config.Config) error {
	idx, err := cfg.Index()
	if err != nil {
		return err
	}
	s.mu.Lock()
	var removed []string
	for url := range s.index {
		if _, ok := idx[url]; !ok {
			removed = append(removed, url)
		}
	}
	s.mu.Unlock()
	for _, url := range removed {
		s.Delete(url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, name := range idx {
		if s.index[url] != name {
			s.addLocked(name, url)
		}
	}
	return nil
}

func (s *Scheduler) lookup(url string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[url]
}

func (s *Scheduler) runIndividual(ctx context.Context, g *group) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		url, more := g.advance()
		if url != "" {
			if s.table.State(url) == Downloading {
				// A URL mid-recording costs nothing to skip; move straight
				// to the next one when there is a next one.
				if more {
					continue
				}
			} else {
				s.pollOne(ctx, g.factory, url)
			}
		}
		if !sleepCtx(ctx, s.opts.Interval) {
			return
		}
	}
}

// pollOne probes one URL. The upload signal goes out first so segments left
// over from a crashed run get picked up even while the stream is offline.
func (s *Scheduler) pollOne(ctx context.Context, f *plugin.Factory, url string) {
	name := s.lookup(url)
	if name == "" {
		s.logger.Warn().Str("url", url).Msg("url not in index, skipping")
		return
	}
	s.bus.Publish(event.NewUpload(&event.StreamInfo{Name: name, URL: url}))

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	adapter := f.New(name, url, s.holder.Get().Merged(name))
	live, err := adapter.Probe(ctx, true)
	_ = adapter.Close()
	switch {
	case err != nil:
		metrics.ProbeTotal.WithLabelValues(f.Name, "error").Inc()
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("url", url).Msg("probe failed")
		}
	case live:
		metrics.ProbeTotal.WithLabelValues(f.Name, "live").Inc()
		// The upload scanner for the same streamer must not race this
		// publish; both sides take the streamer's file-list lock.
		s.locks.Do("upload_file_list_"+name, func() {
			s.bus.Publish(event.NewPreDownload(name, url))
		})
	default:
		metrics.ProbeTotal.WithLabelValues(f.Name, "offline").Inc()
	}
}

func (s *Scheduler) runBatch(ctx context.Context, g *group) {
	defer s.wg.Done()
	timer.Every(ctx, s.opts.BatchInterval, func(ctx context.Context) error {
		return s.batchTick(ctx, g)
	})
}

func (s *Scheduler) batchTick(ctx context.Context, g *group) error {
	urls := g.snapshot()
	if len(urls) == 0 {
		return nil
	}
	live, err := g.factory.BatchProbe(ctx, urls)
	if err != nil {
		metrics.ProbeTotal.WithLabelValues(g.factory.Name, "error").Inc()
		return err
	}
	metrics.ProbeTotal.WithLabelValues(g.factory.Name, "live").Add(float64(len(live)))
	for _, url := range live {
		name := s.lookup(url)
		if name == "" {
			s.logger.Warn().Str("url", url).Msg("batch probe yielded unknown url")
			continue
		}
		if s.table.State(url) == Downloading {
			continue
		}
		s.locks.Do("upload_file_list_"+name, func() {
			s.bus.Publish(event.NewPreDownload(name, url))
		})
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
