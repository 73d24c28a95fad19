// Package watch keeps the per-URL scheduling state and runs the polling
// tasks that turn liveness probes into lifecycle events.
package watch

import "sync"

// State is the per-URL scheduling state.
type State int

const (
	Idle State = iota
	Downloading
)

// Table maps each watched URL to its scheduling state and its in-flight
// upload counter. The table is safe for concurrent use, but the logical
// check-then-act sequences around it still run under named mutexes at the
// handler boundary.
type Table struct {
	mu      sync.Mutex
	states  map[string]State
	uploads map[string]int
}

func NewTable() *Table {
	return &Table{
		states:  make(map[string]State),
		uploads: make(map[string]int),
	}
}

// State returns the current state of url; unknown URLs are Idle.
func (t *Table) State(url string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[url]
}

// SetState records the state of url.
func (t *Table) SetState(url string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == Idle {
		delete(t.states, url)
		return
	}
	t.states[url] = s
}

// UploadCount returns the in-flight upload counter for url.
func (t *Table) UploadCount(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uploads[url]
}

// IncUpload increments the in-flight upload counter and returns the new value.
func (t *Table) IncUpload(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads[url]++
	return t.uploads[url]
}

// DecUpload decrements the in-flight upload counter, clamping at zero.
func (t *Table) DecUpload(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.uploads[url] > 0 {
		t.uploads[url]--
	}
	if t.uploads[url] == 0 {
		delete(t.uploads, url)
	}
}

// Status renders url's state for the status endpoint: "working" while a
// recording runs, "inspecting" while an upload is in flight, else "idle".
func (t *Table) Status(url string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.states[url] == Downloading:
		return "working"
	case t.uploads[url] > 0:
		return "inspecting"
	default:
		return "idle"
	}
}
