//go:build !windows

package services

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the dev server in its own process group so the
// whole tree (package manager plus the actual server it execs) can be
// signalled together.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree force-kills the dev server's process group, falling back
// to the direct process when the group lookup fails.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}
