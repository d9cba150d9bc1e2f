// SPDX-License-Identifier: MIT

// Package procgroup spawns child processes as process-group leaders and
// signals the whole group, so helpers forked by a transcoder die with it.
package procgroup

import (
	"os/exec"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var signalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamfan_proc_signal_total",
	Help: "Signals delivered to relay process groups, by signal and result.",
}, []string{"signal", "result"})

// Kill delivers sig to the command's process group. A process that already
// exited is not an error. Safe on nil or never-started commands.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := kill(cmd, sig)
	countSignal(sig, err)
	return err
}

func countSignal(sig syscall.Signal, err error) {
	name := "other"
	switch sig {
	case syscall.SIGTERM:
		name = "SIGTERM"
	case syscall.SIGKILL:
		name = "SIGKILL"
	}
	result := "sent"
	if err != nil {
		result = "error"
	}
	signalTotal.WithLabelValues(name, result).Inc()
}
