package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// ExecLauncher starts the capture binary as a child process in its own
// process group so termination reaches any helpers it spawns.
type ExecLauncher struct{}

func (ExecLauncher) Launch(_ context.Context, args []string, out io.Writer) (Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrConfig)
	}

	// Cancellation is handled by Job.Stop with a grace period, so the
	// command is not bound to ctx.
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int         { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error      { return p.cmd.Wait() }
func (p *execProcess) Terminate() error { return terminateGroup(p.cmd.Process) }
func (p *execProcess) Kill() error      { return killGroup(p.cmd.Process) }
