// Package danmaku defines the chat-capture sidecar contract. A client records
// room chat during a session and saves it as the `.xml` sibling of each
// finished segment.
package danmaku

import "context"

// Client captures chat for one recording session. Implementations are owned
// by the session: Start once, Save once per segment, Stop when the session
// closes.
type Client interface {
	// Start begins capturing chat for the room behind url.
	Start(ctx context.Context, url string) error
	// Save flushes captured chat so far into path (the segment's .xml sibling).
	Save(path string) error
	Stop() error
}

// Factory builds a client for a room URL, or nil when the platform has no
// chat support.
type Factory func(url string) Client

var factory Factory

// SetFactory installs the process-wide client factory. Platform packages call
// this from init.
func SetFactory(f Factory) { factory = f }

// New returns a client for url, or nil when chat capture is unavailable.
func New(url string) Client {
	if factory == nil {
		return nil
	}
	return factory(url)
}

// Noop is a Client that records nothing. Useful as a stand-in where the
// session logic should exercise the Save path without a real chat source.
type Noop struct{}

func (Noop) Start(context.Context, string) error { return nil }
func (Noop) Save(string) error                   { return nil }
func (Noop) Stop() error                         { return nil }
