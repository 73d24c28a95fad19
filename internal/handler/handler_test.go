package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/event"
	"github.com/livearc/livearc/internal/hook"
	"github.com/livearc/livearc/internal/namedlock"
	"github.com/livearc/livearc/internal/persistence"
	"github.com/livearc/livearc/internal/plugin"
	"github.com/livearc/livearc/internal/uploader"
	"github.com/livearc/livearc/internal/watch"
)

type capturedUpload struct {
	mu    sync.Mutex
	calls [][]plugin.FileInfo
}

func (c *capturedUpload) Upload(_ context.Context, _ *event.StreamInfo, files []plugin.FileInfo) ([]plugin.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, files)
	return files, nil
}

func (c *capturedUpload) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fixture struct {
	bus      *event.Bus
	table    *watch.Table
	store    persistence.Store
	holder   *config.Holder
	uploads  *capturedUpload
	workdir  string
	sessions int32 // concurrent session gauge, for the single-record check
	maxSess  int32
}

func newFixture(t *testing.T, segments int, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		WorkDir: dir,
		Streamers: map[string]config.Streamer{
			"alice": {URL: config.StringList{"https://fake/1"}},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	holder := config.NewHolder(cfg, "")

	f := &fixture{
		bus:     event.NewBus(event.PoolSizes{}),
		table:   watch.NewTable(),
		store:   persistence.NewMemoryStore(),
		holder:  holder,
		uploads: &capturedUpload{},
		workdir: dir,
	}
	locks := namedlock.New()
	manager := uploader.NewManager(f.store, f.table, locks, holder).
		WithUploaderFactory(func(config.Streamer) (plugin.Uploader, error) { return f.uploads, nil })

	Register(Deps{
		Bus:     f.bus,
		Store:   f.store,
		Table:   f.table,
		Locks:   locks,
		Holder:  holder,
		Uploads: manager,
		RunSession: func(ctx context.Context, name, url string, _ config.Streamer) *event.StreamInfo {
			n := atomic.AddInt32(&f.sessions, 1)
			for {
				old := atomic.LoadInt32(&f.maxSess)
				if n <= old || atomic.CompareAndSwapInt32(&f.maxSess, old, n) {
					break
				}
			}
			defer atomic.AddInt32(&f.sessions, -1)

			start := time.Now()
			id, err := f.store.AddRecording(ctx, name, url, start)
			assert.NoError(t, err)
			assert.NoError(t, f.store.UpdateTitle(ctx, id, "my room"))
			for i := 0; i < segments; i++ {
				fname := fmt.Sprintf("%s-%d.flv", name, i)
				assert.NoError(t, os.WriteFile(filepath.Join(dir, fname), []byte("segmentdata"), 0o644))
				assert.NoError(t, f.store.AppendFile(ctx, id, fname))
			}
			time.Sleep(20 * time.Millisecond) // hold the claim briefly
			return &event.StreamInfo{Name: name, URL: url, Title: "my room", Start: start, End: time.Now()}
		},
	})
	f.bus.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.bus.Shutdown(ctx)
	})
	return f
}

func TestLifecycleSingleStreamerCleanSession(t *testing.T) {
	f := newFixture(t, 3, nil)

	f.bus.Publish(event.NewPreDownload("alice", "https://fake/1"))

	require.Eventually(t, func() bool { return f.uploads.count() >= 1 }, 3*time.Second, 10*time.Millisecond)

	require.Len(t, f.uploads.calls[0], 3)
	for _, fi := range f.uploads.calls[0] {
		assert.Empty(t, fi.Danmaku)
	}

	rec, err := f.store.GetLatestByStreamer(context.Background(), "alice")
	require.NoError(t, err)
	files, err := f.store.GetFiles(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	require.Eventually(t, func() bool {
		return f.table.Status("https://fake/1") == "idle"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.uploads.count(), "exactly one upload for one session")
}

func TestConcurrentPreDownloadsYieldOneSession(t *testing.T) {
	f := newFixture(t, 1, nil)

	for i := 0; i < 5; i++ {
		f.bus.Publish(event.NewPreDownload("alice", "https://fake/1"))
	}

	require.Eventually(t, func() bool { return f.uploads.count() >= 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.table.Status("https://fake/1") == "idle" && atomic.LoadInt32(&f.sessions) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.maxSess), "never more than one concurrent session per url")
}

func TestPreprocessorReceivesJSONPayload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "payload.json")
	f := newFixture(t, 1, func(c *config.Config) {
		s := c.Streamers["alice"]
		s.Preprocessor = hook.Chain{{Run: "cat > " + out}}
		c.Streamers["alice"] = s
	})

	f.bus.Publish(event.NewPreDownload("alice", "https://fake/1"))
	require.Eventually(t, func() bool { return f.uploads.count() >= 1 }, 3*time.Second, 10*time.Millisecond)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "alice", payload["name"])
	assert.Equal(t, "https://fake/1", payload["url"])
	assert.NotEmpty(t, payload["start_time"])
}

func TestDownloadedProcessorSeesFileList(t *testing.T) {
	out := filepath.Join(t.TempDir(), "payload.json")
	f := newFixture(t, 2, func(c *config.Config) {
		s := c.Streamers["alice"]
		s.DownloadedProcessor = hook.Chain{{Run: "cat > " + out}}
		c.Streamers["alice"] = s
	})

	f.bus.Publish(event.NewPreDownload("alice", "https://fake/1"))
	require.Eventually(t, func() bool { return f.uploads.count() >= 1 }, 3*time.Second, 10*time.Millisecond)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var payload struct {
		Name      string   `json:"name"`
		RoomTitle string   `json:"room_title"`
		FileList  []string `json:"file_list"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "alice", payload.Name)
	assert.Equal(t, "my room", payload.RoomTitle)
	assert.Len(t, payload.FileList, 2)
}

func TestUploadProbeSignalWithoutFilesIsQuiet(t *testing.T) {
	f := newFixture(t, 0, nil)

	// The watcher's probe-for-pending-segments signal carries only name/url.
	f.bus.Publish(event.NewUpload(&event.StreamInfo{Name: "alice", URL: "https://fake/1"}))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.uploads.count(), "no files on disk, no adapter call")
}
