//go:build windows

package daemon

import (
	"os"
	"os/exec"
)

func detach(cmd *exec.Cmd) {}

// alive opens a handle to pid; FindProcess fails on Windows when the process is gone.
func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// terminate kills p; Windows has no SIGTERM for console-less children.
func terminate(p *os.Process) error {
	return p.Kill()
}
