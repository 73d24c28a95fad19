package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/event"
)

type stubAdapter struct{}

func (stubAdapter) Probe(context.Context, bool) (bool, error) { return false, nil }
func (stubAdapter) StreamURL() string                         { return "" }
func (stubAdapter) Headers() http.Header                      { return nil }
func (stubAdapter) RoomTitle() string                         { return "" }
func (stubAdapter) CoverURL() string                          { return "" }
func (stubAdapter) LiveStart() time.Time                      { return time.Time{} }
func (stubAdapter) Suffix() string                            { return "flv" }
func (stubAdapter) Close() error                              { return nil }

func stubFactory(name, pattern string) *Factory {
	return &Factory{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		New:     func(string, string, config.Streamer) Adapter { return stubAdapter{} },
	}
}

func TestRouteFirstMatchWins(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory("siteA", `^https://a\.example/`))
	r.Register(stubFactory("siteAll", `^https://`))

	assert.Equal(t, "siteA", r.Route("https://a.example/room/1").Name)
	assert.Equal(t, "siteAll", r.Route("https://b.example/room/1").Name)
	assert.Equal(t, GenericName, r.Route("ftp://weird").Name)
}

func TestGroupURLsPreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory("siteA", `^https://a\.example/`))
	r.Register(stubFactory("siteB", `^https://b\.example/`))

	groups := r.GroupURLs([]string{
		"https://a.example/1",
		"https://b.example/1",
		"https://a.example/2",
		"https://nowhere.example/x",
	})
	require.Len(t, groups, 3)
	assert.Equal(t, "siteA", groups[0].Factory.Name)
	assert.Equal(t, []string{"https://a.example/1", "https://a.example/2"}, groups[0].URLs)
	assert.Equal(t, "siteB", groups[1].Factory.Name)
	assert.Equal(t, GenericName, groups[2].Factory.Name)
	assert.Equal(t, []string{"https://nowhere.example/x"}, groups[2].URLs)
}

func TestBatchCapable(t *testing.T) {
	f := stubFactory("solo", `^x`)
	assert.False(t, f.BatchCapable())
	f.BatchProbe = func(context.Context, []string) ([]string, error) { return nil, nil }
	assert.True(t, f.BatchCapable())
}

func TestGenericAdapterScrapesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>alice live</title></head>
<body><video src="/live/stream.m3u8"></video></body></html>`))
	}))
	defer srv.Close()

	a := NewRegistry().Route(srv.URL).New("alice", srv.URL, config.Streamer{})
	live, err := a.Probe(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, live)
	assert.Equal(t, srv.URL+"/live/stream.m3u8", a.StreamURL())
	assert.Equal(t, "alice live", a.RoomTitle())
	assert.Equal(t, "ts", a.Suffix())
}

func TestGenericAdapterOfflinePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`<html><body>stream is offline</body></html>`))
	}))
	defer srv.Close()

	a := NewRegistry().Route(srv.URL).New("alice", srv.URL, config.Streamer{})
	live, err := a.Probe(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestGenericAdapterNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	srv.Close() // connection refused from now on

	a := NewRegistry().Route(srv.URL).New("alice", srv.URL, config.Streamer{})
	_, err := a.Probe(context.Background(), true)
	assert.Error(t, err)
}

func TestNewUploaderDefaultsToNoop(t *testing.T) {
	up, err := NewUploader(config.Streamer{})
	require.NoError(t, err)
	done, err := up.Upload(context.Background(), &event.StreamInfo{Name: "alice"}, []FileInfo{{Video: "a.flv"}})
	require.NoError(t, err)
	assert.Empty(t, done)

	_, err = NewUploader(config.Streamer{Uploader: "missing-platform"})
	assert.Error(t, err)
}
