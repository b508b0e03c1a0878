//go:build windows

package capture

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var errNoSuchProcess = errors.New("no such process")

func setProcessGroup(*exec.Cmd) {}

func terminateGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

func killGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

var nameSignal = syscall.SIGKILL
