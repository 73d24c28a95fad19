// Package reload restarts the daemon when its configuration or executable
// changes, but only once no recording is in progress on disk.
package reload

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/metrics"
)

// ExitCodeRestart is the process exit code that asks the surrounding daemon
// to respawn us.
const ExitCodeRestart = 82

// sentinelExts mark files whose presence in the working directory means a
// recording is in progress.
var sentinelExts = map[string]bool{
	".mp4":  true,
	".flv":  true,
	".3gp":  true,
	".webm": true,
	".mkv":  true,
	".ts":   true,
	".part": true,
}

// Quiescent reports whether dir contains no file with a recording-sentinel
// extension.
func Quiescent(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sentinelExts[filepath.Ext(e.Name())] {
			return false
		}
	}
	return true
}

// InContainer detects whether the process runs inside a container, where an
// external supervisor owns respawning.
func InContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	b, err := os.ReadFile("/proc/self/cgroup")
	return err == nil && bytes.Contains(b, []byte("docker"))
}

// Coordinator watches the config file (fsnotify) and the executable (mtime
// polling). On any change it enters pending mode and, once the working
// directory is quiescent, stops the owned components and exits with
// ExitCodeRestart, respawning itself first unless containerized.
type Coordinator struct {
	configPath string
	workdir    string
	interval   time.Duration
	onStop     func()
	logger     zerolog.Logger

	exePath  string
	exeMtime time.Time
	pending  bool

	// injection points for tests
	inContainer func() bool
	respawn     func() error
	exit        func(code int)
}

func NewCoordinator(configPath, workdir string, interval time.Duration, onStop func()) *Coordinator {
	c := &Coordinator{
		configPath:  configPath,
		workdir:     workdir,
		interval:    interval,
		onStop:      onStop,
		logger:      log.WithComponent("reload"),
		inContainer: InContainer,
		exit:        os.Exit,
	}
	c.respawn = c.spawnSelf
	if exe, err := os.Executable(); err == nil {
		c.exePath = exe
		if fi, serr := os.Stat(exe); serr == nil {
			c.exeMtime = fi.ModTime()
		}
	}
	return c
}

// Run blocks until ctx is cancelled or a restart fires. The fsnotify watcher
// covers the config file; the executable is polled on the same tick that
// checks quiescence.
func (c *Coordinator) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Error().Err(err).Msg("watcher create failed, config changes will not restart the daemon")
	} else {
		defer watcher.Close()
		// Watch the directory: editors replace the file, which drops a
		// watch added on the file itself.
		if werr := watcher.Add(filepath.Dir(c.configPath)); werr != nil {
			c.logger.Error().Err(werr).Str("path", c.configPath).Msg("config watch failed")
		}
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if c.isConfigChange(ev) {
				c.markPending("config file changed")
			}
		case werr, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			c.logger.Warn().Err(werr).Msg("config watcher error")
		case <-ticker.C:
			if c.Tick() {
				return
			}
		}
	}
}

func (c *Coordinator) isConfigChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Clean(ev.Name) == filepath.Clean(c.configPath)
}

// Tick runs one poll: executable mtime check, then the pending/quiescence
// decision. It reports whether a restart fired (only relevant when exit is
// stubbed in tests).
func (c *Coordinator) Tick() bool {
	if c.exeChanged() {
		c.markPending("executable changed")
	}
	if !c.pending {
		return false
	}
	if !Quiescent(c.workdir) {
		c.logger.Info().Msg("restart pending, waiting for recordings to finish")
		return false
	}
	c.trigger()
	return true
}

func (c *Coordinator) exeChanged() bool {
	if c.exePath == "" {
		return false
	}
	fi, err := os.Stat(c.exePath)
	if err != nil {
		return false
	}
	if !c.exeMtime.IsZero() && fi.ModTime().After(c.exeMtime) {
		c.exeMtime = fi.ModTime()
		return true
	}
	c.exeMtime = fi.ModTime()
	return false
}

func (c *Coordinator) markPending(reason string) {
	if c.pending {
		return
	}
	c.pending = true
	metrics.ReloadPending.Set(1)
	c.logger.Info().Str("reason", reason).Msg("restart pending")
}

func (c *Coordinator) trigger() {
	c.logger.Info().Msg("working directory quiet, restarting")
	if c.onStop != nil {
		c.onStop()
	}
	metrics.ReloadPending.Set(0)
	if !c.inContainer() {
		if err := c.respawn(); err != nil {
			c.logger.Error().Err(err).Msg("respawn failed")
		}
	}
	c.exit(ExitCodeRestart)
}

// spawnSelf launches a detached copy of the current executable with the same
// arguments; the parent then exits with the restart code.
func (c *Coordinator) spawnSelf() error {
	cmd := exec.Command(c.exePath, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	return cmd.Start()
}
