package recorder

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/image/webp"
)

// downloadCover fetches the room cover into
// cover/<adapter>/<streamer>/<base>.<ext> under workdir. WebP covers are
// converted to JPEG; only the converted file lands on disk.
func downloadCover(ctx context.Context, client *http.Client, coverURL, workdir, adapter, streamer, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return "", fmt.Errorf("recorder: build cover request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recorder: fetch cover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recorder: cover returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("recorder: read cover: %w", err)
	}

	ext := coverExt(coverURL, resp.Header.Get("Content-Type"))
	if ext == ".webp" {
		img, derr := webp.Decode(bytes.NewReader(data))
		if derr != nil {
			return "", fmt.Errorf("recorder: decode webp cover: %w", derr)
		}
		var buf bytes.Buffer
		if eerr := jpeg.Encode(&buf, img, nil); eerr != nil {
			return "", fmt.Errorf("recorder: encode cover: %w", eerr)
		}
		data = buf.Bytes()
		ext = ".jpg"
	}

	dir := filepath.Join(workdir, "cover", adapter, streamer)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("recorder: create cover dir: %w", err)
	}
	dest := filepath.Join(dir, base+ext)
	if err := renameio.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("recorder: write cover: %w", err)
	}
	return dest, nil
}

func coverExt(rawURL, contentType string) string {
	if ext := strings.ToLower(path.Ext(stripQuery(rawURL))); ext != "" {
		return ext
	}
	switch contentType {
	case "image/webp":
		return ".webp"
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}

func stripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// coverClient is shared by all sessions; covers are small.
var coverClient = &http.Client{Timeout: 60 * time.Second}
