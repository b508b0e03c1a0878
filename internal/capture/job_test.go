package capture

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModes struct {
	mu       sync.Mutex
	monitor  string
	enterErr error
	entered  []string
	exits    int
}

func (m *fakeModes) Enter(_ context.Context, iface string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entered = append(m.entered, iface)
	if m.enterErr != nil {
		return "", m.enterErr
	}
	if m.monitor == "" {
		return iface, nil
	}
	return m.monitor, nil
}

func (m *fakeModes) Exit(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits++
}

func (m *fakeModes) exitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exits
}

type fakeProcess struct {
	done        chan struct{}
	once        sync.Once
	waitErr     error
	ignoreTerm  bool
	terminated  atomic.Int32
	killed      atomic.Int32
	exitOnStart bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit()    { p.once.Do(func() { close(p.done) }) }
func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Wait() error {
	if p.exitOnStart {
		p.exit()
	}
	<-p.done
	return p.waitErr
}

func (p *fakeProcess) Terminate() error {
	p.terminated.Add(1)
	if !p.ignoreTerm {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Add(1)
	p.exit()
	return nil
}

type fakeLauncher struct {
	proc   *fakeProcess
	output string
	err    error

	calls atomic.Int32
	mu    sync.Mutex
	args  []string
}

func (l *fakeLauncher) Launch(_ context.Context, args []string, out io.Writer) (Process, error) {
	l.calls.Add(1)
	l.mu.Lock()
	l.args = append([]string(nil), args...)
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.output != "" {
		if _, err := io.WriteString(out, l.output); err != nil {
			return nil, err
		}
	}
	return l.proc, nil
}

func (l *fakeLauncher) launchedArgs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.args
}

const sampleOutput = `{"bssid":"aa:bb:cc:dd:ee:01","rssi":-48}
{"bssid":"aa:bb:cc:dd:ee:02","rssi":-67}
`

func newTestJob(t *testing.T, iface string, modes *fakeModes, launcher *fakeLauncher) *Job {
	t.Helper()
	out := filepath.Join(t.TempDir(), "scan.out")
	return NewJob(Spec{
		Args:           []string{"geolocate", "-i", iface, "-o", "json"},
		OutputFile:     out,
		InputInterface: iface,
	}, Deps{
		Modes:     modes,
		Launcher:  launcher,
		StopGrace: 50 * time.Millisecond,
	})
}

func TestJob_RunCompletes(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnStart = true
	modes := &fakeModes{monitor: "wlan0mon"}
	launcher := &fakeLauncher{proc: proc, output: sampleOutput}

	job := newTestJob(t, "wlan0", modes, launcher)
	obs, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Observation{
		{MACAddress: "aa:bb:cc:dd:ee:01", SignalStrength: -48},
		{MACAddress: "aa:bb:cc:dd:ee:02", SignalStrength: -67},
	}, obs)
	assert.Equal(t, StateStopped, job.State())
	assert.Equal(t, []string{"geolocate", "-i", "wlan0mon", "-o", "json"}, launcher.launchedArgs())
	assert.Equal(t, []string{"wlan0"}, modes.entered)
	assert.GreaterOrEqual(t, modes.exitCount(), 1)

	snap := job.Snapshot()
	assert.Equal(t, "wlan0mon", snap.MonitorInterface)
	assert.Empty(t, snap.Error)
	assert.False(t, snap.EndedAt.IsZero())
}

func TestJob_MonitorModeFailureNeverLaunches(t *testing.T) {
	modes := &fakeModes{enterErr: errors.New("airmon-ng: no such device")}
	launcher := &fakeLauncher{proc: newFakeProcess()}

	job := newTestJob(t, "wlan9", modes, launcher)
	_, err := job.Run(context.Background())

	require.ErrorIs(t, err, ErrProcess)
	assert.Equal(t, StateFailed, job.State())
	assert.Equal(t, MonitorModeError, job.Message())
	assert.Equal(t, int32(0), launcher.calls.Load())
}

func TestJob_NoInterfaceSkipsMonitorMode(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnStart = true
	modes := &fakeModes{}
	launcher := &fakeLauncher{proc: proc}

	job := NewJob(Spec{
		Args:       []string{"geolocate", "--replay", "dump.pcap"},
		OutputFile: filepath.Join(t.TempDir(), "out"),
	}, Deps{Modes: modes, Launcher: launcher})

	obs, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, obs)
	assert.Empty(t, modes.entered)
	assert.Equal(t, []string{"geolocate", "--replay", "dump.pcap"}, launcher.launchedArgs())
}

func TestJob_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{name: "no args", spec: Spec{OutputFile: "/tmp/x"}},
		{name: "empty binary", spec: Spec{Args: []string{""}, OutputFile: "/tmp/x"}},
		{name: "no output", spec: Spec{Args: []string{"geolocate"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			launcher := &fakeLauncher{}
			job := NewJob(tt.spec, Deps{Modes: &fakeModes{}, Launcher: launcher})
			_, err := job.Run(context.Background())
			require.ErrorIs(t, err, ErrConfig)
			assert.Equal(t, StateFailed, job.State())
			assert.NotEmpty(t, job.Message())
			assert.Equal(t, int32(0), launcher.calls.Load())
		})
	}
}

func TestJob_LaunchFailureRestoresInterface(t *testing.T) {
	modes := &fakeModes{monitor: "wlan0mon"}
	launcher := &fakeLauncher{err: errors.New("exec: geolocate: not found")}

	job := newTestJob(t, "wlan0", modes, launcher)
	_, err := job.Run(context.Background())

	require.ErrorIs(t, err, ErrProcess)
	assert.Equal(t, StateFailed, job.State())
	assert.Equal(t, 1, modes.exitCount())
}

func TestJob_AbnormalExit(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnStart = true
	proc.waitErr = errors.New("exit status 2")
	modes := &fakeModes{monitor: "wlan0mon"}

	job := newTestJob(t, "wlan0", modes, &fakeLauncher{proc: proc})
	_, err := job.Run(context.Background())

	require.ErrorIs(t, err, ErrProcess)
	assert.Equal(t, StateFailed, job.State())
	assert.GreaterOrEqual(t, modes.exitCount(), 1)
}

func TestJob_StopBeforeRun(t *testing.T) {
	launcher := &fakeLauncher{proc: newFakeProcess()}
	modes := &fakeModes{monitor: "wlan0mon"}
	job := newTestJob(t, "wlan0", modes, launcher)

	require.NoError(t, job.Stop(context.Background()))
	assert.Equal(t, StateStopped, job.State())

	_, err := job.Run(context.Background())
	require.ErrorIs(t, err, ErrNotIdle)
	assert.Equal(t, int32(0), launcher.calls.Load())

	// Idempotent.
	require.NoError(t, job.Stop(context.Background()))

	// The interface was never touched.
	modes.mu.Lock()
	assert.Empty(t, modes.entered)
	modes.mu.Unlock()
	assert.Equal(t, 0, modes.exitCount())
	assert.Empty(t, job.Snapshot().MonitorInterface)
}

func runAsync(job *Job) (<-chan []Observation, <-chan error) {
	obsCh := make(chan []Observation, 1)
	errCh := make(chan error, 1)
	go func() {
		obs, err := job.Run(context.Background())
		obsCh <- obs
		errCh <- err
	}()
	return obsCh, errCh
}

func waitForPID(t *testing.T, job *Job) {
	t.Helper()
	require.Eventually(t, func() bool {
		return job.Snapshot().PID != 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestJob_StopDuringRun(t *testing.T) {
	proc := newFakeProcess()
	modes := &fakeModes{monitor: "wlan0mon"}
	launcher := &fakeLauncher{proc: proc, output: sampleOutput}

	job := newTestJob(t, "wlan0", modes, launcher)
	obsCh, errCh := runAsync(job)
	waitForPID(t, job)
	assert.Equal(t, StateRunning, job.State())

	require.NoError(t, job.Stop(context.Background()))

	require.NoError(t, <-errCh)
	assert.Len(t, <-obsCh, 2)
	assert.Equal(t, StateStopped, job.State())
	assert.Equal(t, int32(1), proc.terminated.Load())
	assert.GreaterOrEqual(t, modes.exitCount(), 1)
}

func TestJob_StopKillsAfterGrace(t *testing.T) {
	proc := newFakeProcess()
	proc.ignoreTerm = true
	job := newTestJob(t, "wlan0", &fakeModes{}, &fakeLauncher{proc: proc})

	_, errCh := runAsync(job)
	waitForPID(t, job)

	start := time.Now()
	require.NoError(t, job.Stop(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, <-errCh)
	assert.Equal(t, int32(1), proc.killed.Load())
	assert.Equal(t, StateStopped, job.State())
}

func TestJob_ContextCancelStops(t *testing.T) {
	proc := newFakeProcess()
	job := newTestJob(t, "wlan0", &fakeModes{}, &fakeLauncher{proc: proc})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := job.Run(ctx)
		errCh <- err
	}()
	waitForPID(t, job)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Equal(t, StateStopped, job.State())
	assert.Equal(t, int32(1), proc.terminated.Load())
}

type fakeKiller struct {
	names []string
}

func (k *fakeKiller) KillByName(_ context.Context, name string) (int, error) {
	k.names = append(k.names, name)
	return 1, nil
}

type staleProcess struct{ *fakeProcess }

func (p staleProcess) Terminate() error {
	p.terminated.Add(1)
	return errors.New("operation not permitted")
}

type staleLauncher struct{ proc staleProcess }

func (l staleLauncher) Launch(context.Context, []string, io.Writer) (Process, error) {
	return l.proc, nil
}

func TestJob_StaleHandleFallsBackToName(t *testing.T) {
	proc := staleProcess{newFakeProcess()}
	killer := &fakeKiller{}
	job := NewJob(Spec{
		Args:       []string{"/usr/bin/geolocate", "-o", "json"},
		OutputFile: filepath.Join(t.TempDir(), "out"),
	}, Deps{
		Modes:     &fakeModes{},
		Launcher:  staleLauncher{proc: proc},
		Killer:    killer,
		StopGrace: 20 * time.Millisecond,
	})

	_, errCh := runAsync(job)
	waitForPID(t, job)

	require.NoError(t, job.Stop(context.Background()))
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"geolocate"}, killer.names)
	assert.Equal(t, int32(1), proc.killed.Load())
}
