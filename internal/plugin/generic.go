package plugin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/livearc/livearc/internal/config"
)

// GenericName is the adapter name unmatched URLs fall back to.
const GenericName = "generic"

var mediaSuffixes = map[string]string{
	".flv":  "flv",
	".m3u8": "ts",
	".mp4":  "mp4",
	".ts":   "ts",
	".mkv":  "mkv",
}

func genericFactory() *Factory {
	return &Factory{
		Name:    GenericName,
		Pattern: regexp.MustCompile(`^https?://`),
		New: func(name, rawURL string, cfg config.Streamer) Adapter {
			return &genericAdapter{
				name:   name,
				url:    rawURL,
				suffix: cfg.Format,
				client: &http.Client{Timeout: 15 * time.Second},
			}
		},
	}
}

// genericAdapter treats direct media URLs as the stream itself and otherwise
// scrapes the page for a playable source (a <video>/<source> src attribute or
// an .m3u8/.flv link). It is a best-effort fallback; real platforms get their
// own adapter.
type genericAdapter struct {
	name   string
	url    string
	suffix string
	client *http.Client

	streamURL string
	title     string
}

var _ Adapter = (*genericAdapter)(nil)

func (g *genericAdapter) Probe(ctx context.Context, checkOnly bool) (bool, error) {
	if suffix, ok := directMedia(g.url); ok {
		g.streamURL = g.url
		if g.suffix == "" {
			g.suffix = suffix
		}
		return g.headOK(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return false, fmt.Errorf("generic: build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("generic: fetch %s: %w", g.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("generic: fetch %s: status %d", g.url, resp.StatusCode)
	}

	stream, title := scrapePage(resp.Body, g.url)
	g.title = title
	if stream == "" {
		return false, nil
	}
	g.streamURL = stream
	if g.suffix == "" {
		if suffix, ok := directMedia(stream); ok {
			g.suffix = suffix
		} else {
			g.suffix = "ts"
		}
	}
	return true, nil
}

func (g *genericAdapter) headOK(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.url, nil)
	if err != nil {
		return false, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("generic: head %s: %w", g.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, nil
	}
	return true, nil
}

func (g *genericAdapter) StreamURL() string    { return g.streamURL }
func (g *genericAdapter) Headers() http.Header { return http.Header{} }
func (g *genericAdapter) RoomTitle() string    { return g.title }
func (g *genericAdapter) CoverURL() string     { return "" }
func (g *genericAdapter) LiveStart() time.Time { return time.Time{} }
func (g *genericAdapter) Close() error         { return nil }

func (g *genericAdapter) Suffix() string {
	if g.suffix == "" {
		return "ts"
	}
	return g.suffix
}

func directMedia(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	suffix, ok := mediaSuffixes[strings.ToLower(path.Ext(u.Path))]
	return suffix, ok
}

// scrapePage walks the HTML tree for the first playable source and the page
// title. Relative sources are resolved against base.
func scrapePage(r interface{ Read([]byte) (int, error) }, base string) (stream, title string) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", ""
	}
	baseURL, _ := url.Parse(base)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "video", "source":
				for _, attr := range n.Attr {
					if attr.Key == "src" && stream == "" && attr.Val != "" {
						stream = resolve(baseURL, attr.Val)
					}
				}
			case "a":
				for _, attr := range n.Attr {
					if attr.Key == "href" {
						if _, ok := directMedia(attr.Val); ok && stream == "" {
							stream = resolve(baseURL, attr.Val)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return stream, title
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
