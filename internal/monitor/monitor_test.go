package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) error {
	callArgs := []any{name}
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	return m.Called(callArgs...).Error(0)
}

func newTestController(r CommandRunner) *Controller {
	return NewController("airmon-ng", r, zap.NewNop())
}

func TestEnter_AlreadyMonitorIsNoop(t *testing.T) {
	for _, name := range []string{"", "wlan0mon", "wlan1mon", "mon"} {
		t.Run(name, func(t *testing.T) {
			r := &mockRunner{}
			c := newTestController(r)

			got, err := c.Enter(context.Background(), name)
			require.NoError(t, err)
			assert.Equal(t, name, got)
			assert.False(t, c.Active())
			r.AssertNotCalled(t, "Run", mock.Anything)
		})
	}
}

func TestEnter_Success(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", "airmon-ng", "start", "wlan1").Return(nil).Once()
	c := newTestController(r)

	got, err := c.Enter(context.Background(), "wlan1")
	require.NoError(t, err)
	assert.Equal(t, "wlan1mon", got)
	assert.True(t, c.Active())
	assert.Equal(t, "wlan1mon", c.Monitor())
	r.AssertExpectations(t)
}

func TestEnter_Failure(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", "airmon-ng", "start", "wlan1").Return(errors.New("exit status 1")).Once()
	c := newTestController(r)

	_, err := c.Enter(context.Background(), "wlan1")
	require.ErrorIs(t, err, ErrStartMonitorMode)
	assert.False(t, c.Active())
	assert.Empty(t, c.Monitor())
}

func TestEnter_SameInterfaceTwice(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", "airmon-ng", "start", "wlan1").Return(nil).Once()
	c := newTestController(r)

	_, err := c.Enter(context.Background(), "wlan1")
	require.NoError(t, err)
	got, err := c.Enter(context.Background(), "wlan1")
	require.NoError(t, err)
	assert.Equal(t, "wlan1mon", got)
	r.AssertNumberOfCalls(t, "Run", 1)
}

func TestEnter_SecondInterfaceRejected(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", "airmon-ng", "start", "wlan1").Return(nil).Once()
	c := newTestController(r)

	_, err := c.Enter(context.Background(), "wlan1")
	require.NoError(t, err)
	_, err = c.Enter(context.Background(), "wlan2")
	assert.ErrorIs(t, err, ErrStartMonitorMode)
}

func TestExit_InactiveIsNoop(t *testing.T) {
	r := &mockRunner{}
	c := newTestController(r)

	c.Exit(context.Background())
	c.Exit(context.Background())
	r.AssertNotCalled(t, "Run", mock.Anything)
}

func TestExit_RestoresInterface(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", "airmon-ng", "start", "wlan1").Return(nil).Once()
	r.On("Run", "airmon-ng", "stop", "wlan1mon").Return(nil).Once()
	c := newTestController(r)

	_, err := c.Enter(context.Background(), "wlan1")
	require.NoError(t, err)

	c.Exit(context.Background())
	assert.False(t, c.Active())

	// Idempotent: no second stop.
	c.Exit(context.Background())
	r.AssertExpectations(t)
	r.AssertNumberOfCalls(t, "Run", 2)
}

func TestExit_FailureStillClears(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", "airmon-ng", "start", "wlan1").Return(nil).Once()
	r.On("Run", "airmon-ng", "stop", "wlan1mon").Return(errors.New("device busy")).Once()
	c := newTestController(r)

	_, err := c.Enter(context.Background(), "wlan1")
	require.NoError(t, err)

	c.Exit(context.Background())
	assert.False(t, c.Active())
	assert.Empty(t, c.Monitor())
}

func TestStaticLister(t *testing.T) {
	l := StaticLister{{Name: "wlan0"}, {Name: "wlan0mon", Monitor: true}}
	got, err := l.Interfaces()
	require.NoError(t, err)
	require.Len(t, got, 2)

	got[0].Name = "changed"
	again, _ := l.Interfaces()
	assert.Equal(t, "wlan0", again[0].Name, "Interfaces must return a copy")
}

func TestExecRunner_ReportsExitStatus(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo nope >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	require.NoError(t, ExecRunner{}.Run(context.Background(), "true"))
}
