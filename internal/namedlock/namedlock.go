// Package namedlock provides process-wide mutexes keyed by string.
//
// Locks are created on first use and never freed; cardinality is bounded by
// the number of watched URLs and streamer keys.
package namedlock

import "sync"

// Registry holds named mutexes. The zero value is not usable; use New.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) get(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Lock acquires the mutex for name, creating it on first use.
func (r *Registry) Lock(name string) {
	r.get(name).Lock()
}

// Unlock releases the mutex for name.
func (r *Registry) Unlock(name string) {
	r.get(name).Unlock()
}

// Acquire locks the named mutex and returns its release func. The release
// func must be called exactly once, typically via defer, so the lock is
// released on all exit paths.
func (r *Registry) Acquire(name string) func() {
	l := r.get(name)
	l.Lock()
	var once sync.Once
	return func() { once.Do(l.Unlock) }
}

// Do runs fn while holding the named mutex.
func (r *Registry) Do(name string, fn func()) {
	defer r.Acquire(name)()
	fn()
}

var global = New()

// Default returns the process-global registry.
func Default() *Registry { return global }
