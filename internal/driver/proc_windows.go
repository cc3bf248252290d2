//go:build windows

package driver

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessTree runs taskkill in the background; kill() must not wait for it.
func killProcessTree(proc *os.Process, logger *slog.Logger) {
	go func() {
		taskkill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(proc.Pid))
		taskkill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
		err := taskkill.Run()
		if err == nil {
			return
		}
		logger.Warn("taskkill failed, killing leader only", "pid", proc.Pid, "error", err)
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Warn("kill agent process failed", "pid", proc.Pid, "error", err)
		}
	}()
}
