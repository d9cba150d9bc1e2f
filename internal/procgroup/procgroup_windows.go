// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set is a no-op on Windows; process groups are not used there.
func Set(cmd *exec.Cmd) {}

// kill maps SIGKILL to Process.Kill. Windows has no reliable SIGTERM
// delivery, so graceful signals are dropped and the supervisor's SIGKILL
// escalation does the actual stop.
func kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}
