// Package capture runs one wireless capture job: it prepares the output
// file, optionally moves the input interface into monitor mode, runs the
// external capture binary and always restores the interface afterwards.
package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// State is the lifecycle state of a Job.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// MonitorModeError is the user-facing message recorded when the input
// interface cannot be switched into monitor mode.
const MonitorModeError = "Error starting monitor mode for input interface."

// Error classes surfaced by a Job. Check with errors.Is.
var (
	// ErrConfig means the job was misconfigured and never started.
	ErrConfig = errors.New("capture: invalid configuration")
	// ErrProcess means the capture binary or the mode toggler failed.
	ErrProcess = errors.New("capture: process failed")
	// ErrIO means the output file could not be written or read.
	ErrIO = errors.New("capture: output I/O failed")
	// ErrNotIdle is returned by Run on a job that already ran or was stopped.
	ErrNotIdle = errors.New("capture: job is not idle")
)

// Observation is one access point seen during a capture.
type Observation struct {
	MACAddress     string `json:"macAddress"`
	SignalStrength int    `json:"signalStrength"`
}

// Spec describes a capture run.
type Spec struct {
	// Args is the capture command line; Args[0] is the binary.
	Args []string
	// OutputFile receives the capture binary's stdout. It is truncated
	// when the job starts.
	OutputFile string
	// InputInterface is switched into monitor mode before launch unless
	// empty or already a monitor interface.
	InputInterface string
}

// ModeController enters and leaves monitor mode. Exit must be idempotent
// and safe when Enter was never called.
type ModeController interface {
	Enter(ctx context.Context, iface string) (string, error)
	Exit(ctx context.Context)
}

// Process is a running capture process.
type Process interface {
	Pid() int
	// Wait blocks until the process exits.
	Wait() error
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
}

// Launcher starts the capture binary with stdout wired to out.
type Launcher interface {
	Launch(ctx context.Context, args []string, out io.Writer) (Process, error)
}

// Killer signals every process whose executable name matches name. It is
// the fallback when no live handle to the capture process exists.
type Killer interface {
	KillByName(ctx context.Context, name string) (int, error)
}

// Snapshot is a point-in-time copy of a job's state.
type Snapshot struct {
	ID               string    `json:"id"`
	State            State     `json:"state"`
	Error            string    `json:"error,omitempty"`
	Args             []string  `json:"args"`
	OutputFile       string    `json:"output_file"`
	InputInterface   string    `json:"input_interface,omitempty"`
	MonitorInterface string    `json:"monitor_interface,omitempty"`
	PID              int       `json:"pid,omitempty"`
	StopRequested    bool      `json:"stop_requested,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
}

// isProcessGone reports whether err means the target already exited.
func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, errNoSuchProcess)
}
