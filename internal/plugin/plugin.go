// Package plugin routes watched URLs to platform adapters and upload
// platforms to upload adapters. Concrete site logic lives in the adapters;
// this package only owns registration, matching and capability flags.
package plugin

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/livearc/livearc/internal/config"
)

// Adapter is a per-site download adapter instance bound to one (name, url)
// pair. Instances are short-lived: the watcher creates one per probe, the
// recorder one per session.
type Adapter interface {
	// Probe reports whether the URL is currently live. checkOnly probes may
	// skip expensive work that only a recording needs (stream resolution).
	// A network or upstream failure is returned as an error; offline is
	// (false, nil). On (true, nil) the stream parameters below are set.
	Probe(ctx context.Context, checkOnly bool) (bool, error)

	StreamURL() string
	Headers() http.Header
	RoomTitle() string
	CoverURL() string
	LiveStart() time.Time // zero when the platform does not report it
	Suffix() string       // preferred container suffix (flv, ts, mp4, mkv)

	Close() error
}

// Factory creates adapters for URLs matching Pattern. A Factory with a
// non-nil BatchProbe is batch-capable: the watcher feeds it a whole URL list
// and it returns the currently-live subset.
type Factory struct {
	Name    string
	Pattern *regexp.Regexp
	New     func(name, url string, cfg config.Streamer) Adapter

	BatchProbe func(ctx context.Context, urls []string) ([]string, error)
}

// BatchCapable reports whether the factory supports batched liveness checks.
func (f *Factory) BatchCapable() bool { return f.BatchProbe != nil }

// Group is one adapter's share of a URL partition.
type Group struct {
	Factory *Factory
	URLs    []string
}

// Registry holds download adapter factories in registration order.
type Registry struct {
	mu        sync.RWMutex
	factories []*Factory
	generic   *Factory
}

// NewRegistry creates a registry whose fallback is the generic adapter.
func NewRegistry() *Registry {
	return &Registry{generic: genericFactory()}
}

// Register appends a factory. Routing is first-match in registration order.
func (r *Registry) Register(f *Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// Route picks the first factory whose pattern matches url, else the generic
// fallback.
func (r *Registry) Route(url string) *Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.factories {
		if f.Pattern.MatchString(url) {
			return f
		}
	}
	return r.generic
}

// GroupURLs partitions urls by matching factory, preserving input order
// within each group. Unmatched URLs fall into the generic group.
func (r *Registry) GroupURLs(urls []string) []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := make(map[string]*Group)
	var order []string
	for _, url := range urls {
		matched := r.generic
		for _, f := range r.factories {
			if f.Pattern.MatchString(url) {
				matched = f
				break
			}
		}
		g, ok := byName[matched.Name]
		if !ok {
			g = &Group{Factory: matched}
			byName[matched.Name] = g
			order = append(order, matched.Name)
		}
		g.URLs = append(g.URLs, url)
	}

	out := make([]Group, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}
