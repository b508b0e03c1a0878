package capture

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ProcessKiller implements Killer over the host process table.
type ProcessKiller struct {
	logger *zap.Logger
}

// NewProcessKiller returns a Killer that matches processes by executable name.
func NewProcessKiller(logger *zap.Logger) *ProcessKiller {
	return &ProcessKiller{logger: logger}
}

// KillByName signals every process named name except the current one and
// returns how many were signalled. No match is not an error.
func (k *ProcessKiller) KillByName(ctx context.Context, name string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname != name {
			continue
		}
		if err := p.SendSignalWithContext(ctx, nameSignal); err != nil {
			if !isProcessGone(err) {
				k.logger.Warn("signal by name failed",
					zap.String("name", name),
					zap.Int32("pid", p.Pid),
					zap.Error(err),
				)
			}
			continue
		}
		k.logger.Info("signalled process by name", zap.String("name", name), zap.Int32("pid", p.Pid))
		killed++
	}
	return killed, nil
}
