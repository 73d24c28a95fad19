package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/livearc/livearc/internal/log"
)

// nativeBackend copies the stream in-process: HTTP GET, byte copy into a
// .part file, rename on every cut. Cuts happen on the configured duration or
// byte limit, whichever fires first; with neither configured a hard 8 GiB
// cap applies.
type nativeBackend struct {
	client *http.Client
}

func (b *nativeBackend) Record(ctx context.Context, j Job, onSegment func(path string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.StreamURL, nil)
	if err != nil {
		return fmt.Errorf("recorder: build stream request: %w", err)
	}
	for k, vs := range j.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("recorder: open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recorder: stream returned status %d", resp.StatusCode)
	}

	sizeLimit := j.FileSizeLimit
	if j.SegmentDuration == 0 && sizeLimit == 0 {
		sizeLimit = defaultFileSizeLimit
	}

	buf := make([]byte, 32<<10)
	for {
		done, err := b.copySegment(ctx, resp.Body, j, sizeLimit, buf, onSegment)
		if done || err != nil {
			return err
		}
	}
}

// copySegment writes one segment. done reports that the stream ended cleanly.
func (b *nativeBackend) copySegment(ctx context.Context, src io.Reader, j Job, sizeLimit int64, buf []byte, onSegment func(string)) (done bool, err error) {
	final, err := j.NextName()
	if err != nil {
		return false, err
	}
	part := final + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return false, fmt.Errorf("recorder: open %s: %w", part, err)
	}

	var written int64
	deadline := time.Time{}
	if j.SegmentDuration > 0 {
		deadline = time.Now().Add(j.SegmentDuration)
	}

	finalize := func() {
		if cerr := f.Close(); cerr != nil {
			l := log.WithComponent("recorder")
			l.Warn().Err(cerr).Str("file", part).Msg("close failed")
		}
		if written == 0 {
			_ = os.Remove(part)
			return
		}
		if rerr := os.Rename(part, final); rerr != nil {
			l := log.WithComponent("recorder")
			l.Warn().Err(rerr).Str("file", part).Msg("rename failed")
			return
		}
		onSegment(final)
	}

	for {
		if ctx.Err() != nil {
			finalize()
			return true, nil
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				finalize()
				return false, fmt.Errorf("recorder: write %s: %w", part, werr)
			}
			written += int64(n)
		}
		if rerr != nil {
			finalize()
			if errors.Is(rerr, io.EOF) || ctx.Err() != nil {
				return true, nil
			}
			return false, fmt.Errorf("recorder: read stream: %w", rerr)
		}
		if sizeLimit > 0 && written >= sizeLimit {
			finalize()
			return false, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			finalize()
			return false, nil
		}
	}
}
