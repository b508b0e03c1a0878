// Package monitor switches wireless interfaces in and out of monitor mode
// through an external toggler (airmon-ng by default) and remembers which
// interface it switched so it can always be put back.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Suffix marks an interface name as already being in monitor mode.
const Suffix = "mon"

// ErrStartMonitorMode is returned when the toggler fails to enable monitor mode.
var ErrStartMonitorMode = errors.New("start monitor mode failed")

// CommandRunner executes an external command and reports a non-zero exit as
// an error.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return nil
}

// IsMonitor reports whether name already denotes a monitor interface.
func IsMonitor(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

// Name returns the monitor interface name the toggler derives from iface.
func Name(iface string) string {
	return iface + Suffix
}

// Controller tracks one interface it put into monitor mode. The zero value
// is not usable; create with NewController.
type Controller struct {
	tool   string
	runner CommandRunner
	logger *zap.Logger

	mu       sync.Mutex
	original string
	monitor  string
	active   bool
}

// NewController returns a controller that invokes tool as
// "<tool> start|stop <iface>".
func NewController(tool string, runner CommandRunner, logger *zap.Logger) *Controller {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Controller{
		tool:   tool,
		runner: runner,
		logger: logger,
	}
}

// Enter puts iface into monitor mode and returns the monitor interface name.
// Empty names and names that are already monitor interfaces are returned
// unchanged without running the toggler.
func (c *Controller) Enter(ctx context.Context, iface string) (string, error) {
	if iface == "" || IsMonitor(iface) {
		return iface, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		if c.original == iface {
			return c.monitor, nil
		}
		return "", fmt.Errorf("%w: controller already owns %s", ErrStartMonitorMode, c.monitor)
	}

	c.logger.Info("entering monitor mode", zap.String("interface", iface))
	if err := c.runner.Run(ctx, c.tool, "start", iface); err != nil {
		c.logger.Error("monitor mode start failed", zap.String("interface", iface), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %v", ErrStartMonitorMode, iface, err)
	}

	c.original = iface
	c.monitor = Name(iface)
	c.active = true
	return c.monitor, nil
}

// Exit restores the interface entered by Enter. It is a no-op when nothing
// is active. The controller is always left inactive; a failing toggler is
// logged and not reported because callers are already tearing down.
func (c *Controller) Exit(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}

	monitor := c.monitor
	c.active = false
	c.monitor = ""
	c.original = ""

	c.logger.Info("leaving monitor mode", zap.String("interface", monitor))
	if err := c.runner.Run(ctx, c.tool, "stop", monitor); err != nil {
		c.logger.Warn("monitor mode stop failed", zap.String("interface", monitor), zap.Error(err))
	}
}

// Active reports whether the controller currently holds an interface in
// monitor mode.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Monitor returns the monitor interface name, or "" when inactive.
func (c *Controller) Monitor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}
