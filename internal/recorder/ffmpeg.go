package recorder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/procgroup"
)

// terminateGrace is how long a recorder subprocess gets between SIGTERM and
// SIGKILL when the session closes.
const terminateGrace = 5 * time.Second

// ffmpegBackend records through an external ffmpeg process spawned in its
// own process group. In single mode it writes one `<name>.<ext>.part` and
// renames on clean exit; in segmented mode ffmpeg cuts internally and
// reports each finished segment on stdout, one name per line.
type ffmpegBackend struct {
	segmented bool
}

func (b *ffmpegBackend) Record(ctx context.Context, j Job, onSegment func(path string)) error {
	if b.segmented {
		return b.recordSegmented(ctx, j, onSegment)
	}
	return b.recordSingle(ctx, j, onSegment)
}

func (b *ffmpegBackend) baseArgs(j Job) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-y"}
	if len(j.Headers) > 0 {
		var sb strings.Builder
		for k, vs := range j.Headers {
			for _, v := range vs {
				sb.WriteString(k)
				sb.WriteString(": ")
				sb.WriteString(v)
				sb.WriteString("\r\n")
			}
		}
		args = append(args, "-headers", sb.String())
	}
	args = append(args, "-i", j.StreamURL)
	args = append(args, j.OptArgs...)
	args = append(args, "-c", "copy")
	return args
}

func (b *ffmpegBackend) recordSingle(ctx context.Context, j Job, onSegment func(string)) error {
	final, err := j.NextName()
	if err != nil {
		return err
	}
	part := final + ".part"

	args := b.baseArgs(j)
	if j.SegmentDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", int(j.SegmentDuration.Seconds())))
	}
	if j.FileSizeLimit > 0 {
		args = append(args, "-fs", fmt.Sprintf("%d", j.FileSizeLimit))
	}
	args = append(args, "-f", muxFormat(j.Suffix), part)

	err = b.runProcess(ctx, args, nil)

	if fi, serr := os.Stat(part); serr == nil && fi.Size() > 0 {
		if rerr := os.Rename(part, final); rerr != nil {
			l := log.WithComponent("recorder")
			l.Warn().Err(rerr).Str("file", part).Msg("rename failed")
		} else {
			onSegment(final)
		}
	} else {
		_ = os.Remove(part)
	}
	return err
}

func (b *ffmpegBackend) recordSegmented(ctx context.Context, j Job, onSegment func(string)) error {
	pattern := filepath.Join(j.WorkDir, fmt.Sprintf("livearc-%d-%%05d.%s", time.Now().Unix(), j.Suffix))

	args := b.baseArgs(j)
	args = append(args, "-f", "segment")
	if j.SegmentDuration > 0 {
		args = append(args, "-segment_time", fmt.Sprintf("%d", int(j.SegmentDuration.Seconds())))
	}
	args = append(args,
		"-segment_format", muxFormat(j.Suffix),
		"-reset_timestamps", "1",
		"-segment_list", "pipe:1",
		"-segment_list_type", "flat",
		pattern,
	)

	return b.runProcess(ctx, args, func(line string) {
		internal := line
		if !filepath.IsAbs(internal) {
			internal = filepath.Join(j.WorkDir, internal)
		}
		final, err := j.NextName()
		if err != nil {
			l := log.WithComponent("recorder")
			l.Warn().Err(err).Msg("segment name generation failed")
			return
		}
		if err := os.Rename(internal, final); err != nil {
			l := log.WithComponent("recorder")
			l.Warn().Err(err).Str("file", internal).Msg("segment rename failed")
			return
		}
		onSegment(final)
	})
}

// runProcess spawns ffmpeg in its own process group and waits for it. When
// onLine is non-nil each stdout line is fed to it as it arrives. Context
// cancellation terminates the group with SIGTERM, then SIGKILL after grace.
func (b *ffmpegBackend) runProcess(ctx context.Context, args []string, onLine func(string)) error {
	cmd := exec.Command("ffmpeg", args...)
	procgroup.Set(cmd)
	cmd.Stderr = os.Stderr

	var stdoutDone chan struct{}
	if onLine != nil {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("recorder: stdout pipe: %w", err)
		}
		stdoutDone = make(chan struct{})
		go func() {
			defer close(stdoutDone)
			sc := bufio.NewScanner(stdout)
			for sc.Scan() {
				if line := strings.TrimSpace(sc.Text()); line != "" {
					onLine(line)
				}
			}
		}()
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("recorder: start ffmpeg: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		if stdoutDone != nil {
			<-stdoutDone
		}
		waitCh <- cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		if err != nil {
			return fmt.Errorf("recorder: ffmpeg exited: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := procgroup.Terminate(cmd, waitCh, terminateGrace); err != nil {
			l := log.WithComponent("recorder")
			l.Debug().Err(err).Msg("ffmpeg terminated")
		}
		return nil
	}
}

// muxFormat maps a container suffix to the ffmpeg muxer name.
func muxFormat(suffix string) string {
	switch suffix {
	case "ts":
		return "mpegts"
	case "mkv":
		return "matroska"
	case "":
		return "flv"
	default:
		return suffix
	}
}
