// Package gateway runs the external audio tools and parses what they print.
package gateway

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DeviceScanner finds the default render device.
type DeviceScanner interface {
	ScanDevices(ctx context.Context) (DeviceRecord, bool, error)
}

// BatteryQuerier asks the headset for its battery level.
type BatteryQuerier interface {
	QueryBattery(ctx context.Context) BatteryResult
}

type execRunner struct{}

// ExecRunner returns a Runner backed by os/exec.
func ExecRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}
