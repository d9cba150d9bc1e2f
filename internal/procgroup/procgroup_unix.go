// SPDX-License-Identifier: MIT

//go:build unix && !windows

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
)

// Set marks the command to start as the leader of a fresh process group.
// Required before Kill can reach the whole group.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func kill(cmd *exec.Cmd, sig syscall.Signal) error {
	// Setpgid at spawn time makes the child its own group leader, so the
	// group id equals its pid.
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return ignoreGone(err)
	}
	return ignoreGone(syscall.Kill(-pgid, sig))
}

// ignoreGone maps "no such process" onto success: a group that is already
// fully reaped needs no signal.
func ignoreGone(err error) error {
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
