//go:build !windows

package capture

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var errNoSuchProcess error = unix.ESRCH

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup sends SIGTERM to the process group led by p.
func terminateGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

// killGroup sends SIGKILL to the process group led by p.
func killGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-p.Pid, sig); err != nil {
		if err == unix.ESRCH {
			// Group gone; the leader may still be a zombie we can signal.
			return p.Signal(sig)
		}
		return err
	}
	return nil
}

// nameSignal is the signal sent by the name-based fallback.
var nameSignal = unix.SIGKILL
