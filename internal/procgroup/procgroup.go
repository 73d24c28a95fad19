// Package procgroup spawns recorder subprocesses in their own process group
// and tears the whole tree down on session close.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/livearc/livearc/internal/log"
)

// Terminate gracefully stops a process group: SIGTERM, wait up to grace via
// waitCh, then SIGKILL. The command must have been spawned after Set. The
// returned error is the process's Wait result; waitCh is always drained.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	logger := log.WithComponent("procgroup")

	if err := Kill(cmd, syscall.SIGTERM); err != nil {
		logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("SIGTERM failed")
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	logger.Warn().Int("pid", cmd.Process.Pid).Msg("grace period exceeded, sending SIGKILL")
	if err := Kill(cmd, syscall.SIGKILL); err != nil {
		logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("SIGKILL failed")
	}
	return <-waitCh
}
