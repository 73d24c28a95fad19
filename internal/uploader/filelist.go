// Package uploader turns finished recordings on disk into upload jobs and
// runs the per-streamer postprocessor chain on what the adapter accepted.
package uploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/persistence"
	"github.com/livearc/livearc/internal/plugin"
)

// Stem returns the file name without directory and extension. Stems identify
// a segment across its video and chat sidecar and in the in-flight set.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type candidate struct {
	path  string
	stem  string
	ctime int64 // best available creation-time proxy
}

// scan enumerates the upload job for one streamer. Files belong to the job
// when their name contains the streamer key or their stem appears under the
// streamer's most recent recording row. The caller holds the streamer's
// file-list lock; scan itself takes the in-flight set lock for the
// filter-and-claim step.
//
// Side effects, in order per file: in-flight stems are skipped, files at or
// under the size threshold are deleted, .part suffixes are renamed away.
// Orphaned .xml sidecars are deleted at the end.
func (m *Manager) scan(ctx context.Context, name string) ([]plugin.FileInfo, []string, error) {
	logger := log.WithComponent("uploader").With().Str("streamer", name).Logger()

	dbStems := make(map[string]bool)
	rec, err := m.store.GetLatestByStreamer(ctx, name)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, nil, err
	}
	if rec != nil {
		files, ferr := m.store.GetFiles(ctx, rec.ID)
		if ferr != nil {
			return nil, nil, ferr
		}
		for _, f := range files {
			dbStems[Stem(f)] = true
		}
	}

	entries, err := os.ReadDir(m.workdir)
	if err != nil {
		return nil, nil, err
	}

	var videos []candidate
	xmls := make(map[string]string)

	release := m.locks.Acquire("upload_filename")
	defer release()

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fname := e.Name()
		stem := Stem(strings.TrimSuffix(fname, ".part"))
		if !strings.Contains(fname, name) && !dbStems[stem] {
			continue
		}
		path := filepath.Join(m.workdir, fname)

		if strings.EqualFold(filepath.Ext(fname), ".xml") {
			xmls[stem] = path
			continue
		}
		if m.inflight[stem] {
			continue
		}
		fi, serr := e.Info()
		if serr != nil {
			continue
		}
		if m.threshold > 0 && fi.Size() <= m.threshold {
			logger.Info().Str("file", fname).Int64("size", fi.Size()).Msg("below threshold, deleting")
			if rerr := os.Remove(path); rerr != nil {
				logger.Warn().Err(rerr).Str("file", fname).Msg("delete failed")
			}
			continue
		}
		if strings.HasSuffix(fname, ".part") {
			finished := strings.TrimSuffix(path, ".part")
			if rerr := os.Rename(path, finished); rerr != nil {
				logger.Warn().Err(rerr).Str("file", fname).Msg("part rename failed")
				continue
			}
			path = finished
		}
		videos = append(videos, candidate{path: path, stem: stem, ctime: ctime(fi)})
	}

	sort.Slice(videos, func(i, j int) bool { return videos[i].ctime < videos[j].ctime })

	files := make([]plugin.FileInfo, 0, len(videos))
	stems := make([]string, 0, len(videos))
	for _, v := range videos {
		f := plugin.FileInfo{Video: v.path}
		if x, ok := xmls[v.stem]; ok {
			f.Danmaku = x
			delete(xmls, v.stem)
		}
		files = append(files, f)
		stems = append(stems, v.stem)
		m.inflight[v.stem] = true
	}

	// Chat files without a matching video are stale leftovers. Sidecars of
	// in-flight stems still have their video, it is just claimed elsewhere.
	for stem, x := range xmls {
		if m.inflight[stem] {
			continue
		}
		if err := os.Remove(x); err != nil {
			logger.Warn().Err(err).Str("file", x).Msg("orphan chat delete failed")
		}
	}
	return files, stems, nil
}

// releaseStems removes claimed stems from the in-flight set.
func (m *Manager) releaseStems(stems []string) {
	m.locks.Do("upload_filename", func() {
		for _, s := range stems {
			delete(m.inflight, s)
		}
	})
}
