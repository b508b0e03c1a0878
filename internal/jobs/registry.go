// Package jobs owns the single capture slot of a device. It starts capture
// jobs, refuses a second concurrent one, and records every lifecycle
// transition to the job repository, the event bus and metrics.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/geoscout/internal/capture"
	"github.com/HerbHall/geoscout/internal/plugin"
	"github.com/HerbHall/geoscout/internal/services"
)

// Event topics published by the registry.
const (
	TopicJobStarted   = "geolocate.job.started"
	TopicJobCompleted = "geolocate.job.completed"
	TopicJobFailed    = "geolocate.job.failed"
	TopicJobStopped   = "geolocate.job.stopped"
)

// Source identifies registry events on the bus.
const Source = "geolocate"

var (
	// ErrAlreadyRunning is returned by Start while another job holds the slot.
	ErrAlreadyRunning = errors.New("jobs: a capture job is already running")
	// ErrNothingRunning is returned by Stop when the slot is empty.
	ErrNothingRunning = errors.New("jobs: no capture job is running")
)

// Recorder receives job metrics.
type Recorder interface {
	JobStarted()
	JobFinished(state string, observations int)
}

// Deps are the collaborators of the jobs the registry runs.
// Repo, Bus and Metrics are optional.
type Deps struct {
	// NewModes returns a fresh monitor mode controller for each job.
	NewModes  func() capture.ModeController
	Launcher  capture.Launcher
	Killer    capture.Killer
	StopGrace time.Duration

	Repo    services.JobRepository
	Bus     plugin.EventBus
	Metrics Recorder
	Logger  *zap.Logger
	Now     func() time.Time
}

// Status is a snapshot of the registry.
type Status struct {
	Running bool              `json:"running"`
	Current *capture.Snapshot `json:"current,omitempty"`
	Last    *capture.Snapshot `json:"last,omitempty"`
}

// FinishedPayload is the event payload of a terminal transition.
type FinishedPayload struct {
	Job          capture.Snapshot      `json:"job"`
	Observations []capture.Observation `json:"observations,omitempty"`
}

// Registry runs at most one capture job at a time.
type Registry struct {
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	current *capture.Job
	done    chan struct{}
	last    *capture.Snapshot
	lastObs []capture.Observation
	lastErr error
}

// New creates an empty registry.
func New(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StopGrace <= 0 {
		deps.StopGrace = capture.DefaultStopGrace
	}
	return &Registry{deps: deps, logger: deps.Logger}
}

// Start runs a capture job to completion on the caller's goroutine and
// returns its observations. Cancelling ctx stops the job.
func (r *Registry) Start(ctx context.Context, spec capture.Spec) (*capture.Job, []capture.Observation, error) {
	job, done, err := r.claim(spec)
	if err != nil {
		return nil, nil, err
	}
	obs, err := r.run(ctx, job, done)
	return job, obs, err
}

// StartAsync claims the slot and runs the job in the background. The job
// outlives ctx's cancellation; use Stop to end it and Wait or Status to
// collect the outcome.
func (r *Registry) StartAsync(ctx context.Context, spec capture.Spec) (*capture.Job, error) {
	job, done, err := r.claim(spec)
	if err != nil {
		return nil, err
	}
	go func() {
		_, _ = r.run(context.WithoutCancel(ctx), job, done)
	}()
	return job, nil
}

func (r *Registry) claim(spec capture.Spec) (*capture.Job, chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return nil, nil, ErrAlreadyRunning
	}
	job := capture.NewJob(spec, capture.Deps{
		Modes:     r.deps.NewModes(),
		Launcher:  r.deps.Launcher,
		Killer:    r.deps.Killer,
		StopGrace: r.deps.StopGrace,
		Logger:    r.logger,
		Now:       r.deps.Now,
	})
	r.current = job
	r.done = make(chan struct{})
	return job, r.done, nil
}

func (r *Registry) run(ctx context.Context, job *capture.Job, done chan struct{}) ([]capture.Observation, error) {
	defer close(done)

	r.recordStart(ctx, job, r.deps.Now())
	obs, err := job.Run(ctx)
	snap := job.Snapshot()
	r.recordFinish(ctx, snap, obs)

	r.mu.Lock()
	if r.current == job {
		r.current = nil
	}
	r.last = &snap
	r.lastObs = obs
	r.lastErr = err
	r.mu.Unlock()

	return obs, err
}

// Stop stops the running job and clears the slot. The slot is freed even
// when cleanup of the job fails; such failures are logged. Stop waits up to
// the stop grace period for the job's Run to return so the next job does
// not race its interface cleanup.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	job, done := r.current, r.done
	r.mu.Unlock()
	if job == nil {
		return ErrNothingRunning
	}

	err := job.Stop(ctx)
	if err != nil {
		r.logger.Warn("stop capture job", zap.String("job_id", job.ID()), zap.Error(err))
	}

	timer := time.NewTimer(r.deps.StopGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.Warn("capture job still finishing after stop", zap.String("job_id", job.ID()))
	case <-ctx.Done():
	}

	r.mu.Lock()
	if r.current == job {
		r.current = nil
	}
	r.mu.Unlock()
	return err
}

// Shutdown stops the running job, if any.
func (r *Registry) Shutdown(ctx context.Context) error {
	if err := r.Stop(ctx); err != nil && !errors.Is(err, ErrNothingRunning) {
		return err
	}
	return nil
}

// Status returns a snapshot without waiting on the running job.
func (r *Registry) Status() Status {
	r.mu.Lock()
	current, last := r.current, r.last
	r.mu.Unlock()

	var st Status
	if current != nil {
		snap := current.Snapshot()
		st.Running = true
		st.Current = &snap
	}
	if last != nil {
		cp := *last
		st.Last = &cp
	}
	return st
}

// Wait blocks until the running job finishes and returns its outcome. With
// no running job it returns the outcome of the last one.
func (r *Registry) Wait(ctx context.Context) ([]capture.Observation, error) {
	r.mu.Lock()
	done := r.done
	running := r.current != nil
	r.mu.Unlock()

	if running {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastObs, r.lastErr
}

// LastObservations returns the observations of the most recent finished
// job, or nil.
func (r *Registry) LastObservations() []capture.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capture.Observation(nil), r.lastObs...)
}

// ReapOrphans kills capture processes left behind by a previous run of the
// service. It does nothing while a job is running.
func (r *Registry) ReapOrphans(ctx context.Context, binary string) (int, error) {
	if r.deps.Killer == nil || binary == "" {
		return 0, nil
	}
	r.mu.Lock()
	busy := r.current != nil
	r.mu.Unlock()
	if busy {
		return 0, nil
	}
	n, err := r.deps.Killer.KillByName(ctx, binary)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("reaped orphaned capture processes", zap.String("binary", binary), zap.Int("count", n))
	}
	return n, nil
}

func (r *Registry) recordStart(ctx context.Context, job *capture.Job, startedAt time.Time) {
	snap := job.Snapshot()
	if r.deps.Repo != nil {
		rec := &services.JobRecord{
			ID:             job.ID(),
			State:          string(capture.StateRunning),
			Args:           snap.Args,
			OutputFile:     snap.OutputFile,
			InputInterface: snap.InputInterface,
			StartedAt:      startedAt,
		}
		if err := r.deps.Repo.Create(ctx, rec); err != nil {
			r.logger.Warn("record job start", zap.String("job_id", job.ID()), zap.Error(err))
		}
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.JobStarted()
	}
	r.publish(ctx, TopicJobStarted, snap)
}

func (r *Registry) recordFinish(ctx context.Context, snap capture.Snapshot, obs []capture.Observation) {
	// The job may have ended because ctx was cancelled; bookkeeping still runs.
	ctx = context.WithoutCancel(ctx)

	if r.deps.Repo != nil {
		endedAt := snap.EndedAt
		if endedAt.IsZero() {
			endedAt = r.deps.Now()
		}
		if err := r.deps.Repo.Finish(ctx, snap.ID, string(snap.State), snap.Error, endedAt, len(obs)); err != nil {
			r.logger.Warn("record job finish", zap.String("job_id", snap.ID), zap.Error(err))
		}
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.JobFinished(string(snap.State), len(obs))
	}

	topic := TopicJobCompleted
	switch {
	case snap.State == capture.StateFailed:
		topic = TopicJobFailed
	case snap.StopRequested:
		topic = TopicJobStopped
	}
	r.publish(ctx, topic, FinishedPayload{Job: snap, Observations: obs})
}

func (r *Registry) publish(ctx context.Context, topic string, payload any) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    Source,
		Timestamp: r.deps.Now(),
		Payload:   payload,
	})
}
