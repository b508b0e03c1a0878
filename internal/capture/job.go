package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 5 * time.Second

// Deps are the collaborators a Job drives.
type Deps struct {
	Modes    ModeController
	Launcher Launcher
	// Killer is optional; without it Stop cannot fall back to name matching.
	Killer Killer
	// StopGrace defaults to DefaultStopGrace.
	StopGrace time.Duration
	Logger    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Job is a single capture run. States move Idle -> Running -> Stopped or
// Failed and never go back. A Job is safe for concurrent use; Stop may be
// called from any goroutine while Run is blocked.
type Job struct {
	id   string
	spec Spec
	deps Deps
	log  *zap.Logger

	mu            sync.Mutex
	state         State
	errMsg        string
	args          []string
	monitorIface  string
	proc          Process
	exited        chan struct{}
	stopRequested bool
	startedAt     time.Time
	endedAt       time.Time
}

// NewJob creates an idle job. The command line is copied.
func NewJob(spec Spec, deps Deps) *Job {
	if deps.StopGrace <= 0 {
		deps.StopGrace = DefaultStopGrace
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	id := uuid.New().String()
	args := append([]string(nil), spec.Args...)
	spec.Args = append([]string(nil), spec.Args...)
	return &Job{
		id:    id,
		spec:  spec,
		deps:  deps,
		log:   deps.Logger.With(zap.String("job_id", id)),
		state: StateIdle,
		args:  args,
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:               j.id,
		State:            j.state,
		Error:            j.errMsg,
		Args:             append([]string(nil), j.args...),
		OutputFile:       j.spec.OutputFile,
		InputInterface:   j.spec.InputInterface,
		MonitorInterface: j.monitorIface,
		StopRequested:    j.stopRequested,
		StartedAt:        j.startedAt,
		EndedAt:          j.endedAt,
	}
	if j.proc != nil {
		s.PID = j.proc.Pid()
	}
	return s
}

// Run executes the capture and blocks until the capture binary exits or the
// job is stopped, then parses the output file. A stopped job returns the
// observations captured so far and a nil error. ctx cancellation stops the
// job.
func (j *Job) Run(ctx context.Context) ([]Observation, error) {
	j.mu.Lock()
	if j.state != StateIdle {
		state := j.state
		j.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotIdle, state)
	}
	if len(j.args) == 0 || j.args[0] == "" {
		j.mu.Unlock()
		return nil, j.fail(fmt.Errorf("%w: empty capture command", ErrConfig), "No capture command given.")
	}
	if j.spec.OutputFile == "" {
		j.mu.Unlock()
		return nil, j.fail(fmt.Errorf("%w: no output file", ErrConfig), "No output file given.")
	}
	j.state = StateRunning
	j.startedAt = j.deps.Now()
	j.mu.Unlock()

	unwatch := context.AfterFunc(ctx, func() {
		j.log.Info("context done, stopping capture")
		_ = j.Stop(context.Background())
	})
	defer unwatch()

	out, err := os.Create(j.spec.OutputFile)
	if err != nil {
		return nil, j.fail(fmt.Errorf("%w: %v", ErrIO, err), "Could not create scan output file.")
	}
	defer out.Close()

	if j.stopPending() {
		j.finish(StateStopped, "")
		return nil, nil
	}

	if iface := j.spec.InputInterface; iface != "" {
		mon, err := j.deps.Modes.Enter(ctx, iface)
		if err != nil {
			return nil, j.fail(fmt.Errorf("%w: %v", ErrProcess, err), MonitorModeError)
		}
		if mon != iface {
			j.mu.Lock()
			j.monitorIface = mon
			for i, a := range j.args {
				if a == iface {
					j.args[i] = mon
				}
			}
			j.mu.Unlock()
		}
	}

	j.mu.Lock()
	if j.stopRequested {
		j.mu.Unlock()
		j.deps.Modes.Exit(context.Background())
		j.finish(StateStopped, "")
		return nil, nil
	}
	args := append([]string(nil), j.args...)
	j.mu.Unlock()

	j.log.Info("launching capture", zap.Strings("args", args), zap.String("output", j.spec.OutputFile))
	proc, err := j.deps.Launcher.Launch(ctx, args, out)
	if err != nil {
		j.deps.Modes.Exit(context.Background())
		return nil, j.fail(fmt.Errorf("%w: %v", ErrProcess, err), "Error starting capture process.")
	}

	exited := make(chan struct{})
	j.mu.Lock()
	j.proc = proc
	j.exited = exited
	stopNow := j.stopRequested
	j.mu.Unlock()
	if stopNow {
		// Stop ran between the check above and the handle being published.
		go j.terminate(context.Background(), proc, exited)
	}

	waitErr := proc.Wait()
	close(exited)

	stopped := j.stopPending()

	j.deps.Modes.Exit(context.Background())

	if err := out.Sync(); err != nil {
		j.log.Warn("sync output file", zap.Error(err))
	}

	if waitErr != nil && !stopped {
		j.log.Warn("capture process exited abnormally", zap.Error(waitErr))
		return nil, j.fail(fmt.Errorf("%w: %v", ErrProcess, waitErr), "Capture process exited abnormally.")
	}

	obs, err := ParseFile(j.spec.OutputFile)
	if err != nil {
		return nil, j.fail(fmt.Errorf("%w: %v", ErrIO, err), "Could not read scan output.")
	}

	j.finish(StateStopped, "")
	j.log.Info("capture finished", zap.Int("observations", len(obs)), zap.Bool("stopped", stopped))
	return obs, nil
}

// Stop terminates the capture process and restores the input interface.
// It is idempotent, safe before Run, and never returns cleanup failures;
// those are logged. The returned error is only ctx's error if ctx ends
// while waiting for the process to exit.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return nil
	}
	j.stopRequested = true
	if j.state == StateIdle {
		j.state = StateStopped
		j.endedAt = j.deps.Now()
		j.mu.Unlock()
		j.log.Debug("stopped before run")
		return nil
	}
	proc, exited := j.proc, j.exited
	j.mu.Unlock()

	var err error
	if proc != nil {
		err = j.terminate(ctx, proc, exited)
	}

	j.deps.Modes.Exit(context.Background())
	return err
}

// terminate sends SIGTERM, waits up to the grace period, then SIGKILLs.
// A stale handle falls back to killing by executable name.
func (j *Job) terminate(ctx context.Context, proc Process, exited <-chan struct{}) error {
	j.log.Info("terminating capture process", zap.Int("pid", proc.Pid()))

	if err := proc.Terminate(); err != nil {
		if isProcessGone(err) {
			return nil
		}
		j.log.Warn("terminate by handle failed", zap.Error(err))
		j.killByName(ctx)
	}

	timer := time.NewTimer(j.deps.StopGrace)
	defer timer.Stop()

	select {
	case <-exited:
		return nil
	case <-timer.C:
		j.log.Warn("capture process ignored SIGTERM, killing", zap.Duration("grace", j.deps.StopGrace))
		if err := proc.Kill(); err != nil && !isProcessGone(err) {
			j.log.Warn("kill by handle failed", zap.Error(err))
			j.killByName(ctx)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) killByName(ctx context.Context) {
	if j.deps.Killer == nil {
		return
	}
	name := filepath.Base(j.spec.Args[0])
	n, err := j.deps.Killer.KillByName(ctx, name)
	if err != nil {
		j.log.Warn("kill by name failed", zap.String("name", name), zap.Error(err))
		return
	}
	j.log.Info("killed by name", zap.String("name", name), zap.Int("count", n))
}

// fail moves the job to Failed with a user-facing message and returns err.
func (j *Job) fail(err error, msg string) error {
	j.finish(StateFailed, msg)
	j.log.Error("capture failed", zap.String("reason", msg), zap.Error(err))
	return err
}

func (j *Job) finish(state State, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = state
	j.errMsg = msg
	j.proc = nil
	j.endedAt = j.deps.Now()
}

// Message returns the user-facing error of a failed job, or "".
func (j *Job) Message() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errMsg
}

func (j *Job) stopPending() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopRequested
}
