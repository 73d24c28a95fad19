// Package persistence stores recording metadata: one row per recording, an
// owned list of segment file names, and a small key/value table.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("persistence: not found")

// Recording is one recording session's persisted metadata.
type Recording struct {
	ID        int64
	Name      string // streamer key
	URL       string
	Title     string
	StartTime time.Time
	CoverPath string
}

// Store is the persistence facade. Implementations must be safe for
// concurrent use from multiple pool workers; reads observe committed writes.
type Store interface {
	AddRecording(ctx context.Context, name, url string, start time.Time) (int64, error)
	UpdateTitle(ctx context.Context, id int64, title string) error
	UpdateCoverPath(ctx context.Context, id int64, path string) error
	AppendFile(ctx context.Context, id int64, fileName string) error
	GetFiles(ctx context.Context, id int64) ([]string, error)
	GetLatestByStreamer(ctx context.Context, name string) (*Recording, error)
	GetByFileName(ctx context.Context, fileName string) (*Recording, error)

	PutKV(ctx context.Context, key, value string) error
	GetKV(ctx context.Context, key string) (string, error)

	Close() error
}
