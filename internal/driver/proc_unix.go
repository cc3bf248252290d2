//go:build !windows

package driver

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess puts the agent in its own process group so the shell
// wrapper and everything aider spawns can be killed together.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessTree(proc *os.Process, logger *slog.Logger) {
	err := unix.Kill(-proc.Pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return
	}
	logger.Warn("kill agent process group failed, killing leader only", "pid", proc.Pid, "error", err)
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("kill agent process failed", "pid", proc.Pid, "error", err)
	}
}
