package gateway

import (
	"context"
	"regexp"
	"strings"
	"time"
)

const (
	markerUnavailable = "BATTERY_UNAVAILABLE"
	markerError       = "Error"
)

var levelPattern = regexp.MustCompile(`Level:\s*(\d+)%`)

// BatteryResult is the classified outcome of one battery query.
type BatteryResult struct {
	// Level holds the percentage digits. It is empty when the headset
	// answered without reporting a level.
	Level     string
	Available bool
	Output    string
	Err       error
}

// HeadsetControl queries battery state through the HeadsetControl CLI.
type HeadsetControl struct {
	runner  Runner
	path    string
	timeout time.Duration
}

func NewHeadsetControl(runner Runner, path string, timeout time.Duration) *HeadsetControl {
	return &HeadsetControl{
		runner:  runner,
		path:    path,
		timeout: timeout,
	}
}

func (h *HeadsetControl) QueryBattery(ctx context.Context) BatteryResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	out, err := h.runner.Run(ctx, h.path, "-b")
	return ParseBattery(string(out), err)
}

// ParseBattery classifies tool output. A failed run or an unavailability
// or error marker counts as unavailable. Any other output is an answer,
// with or without a level in it.
func ParseBattery(out string, runErr error) BatteryResult {
	res := BatteryResult{Output: out, Err: runErr}
	if runErr != nil || strings.Contains(out, markerUnavailable) || strings.Contains(out, markerError) {
		return res
	}
	res.Available = true
	if m := levelPattern.FindStringSubmatch(out); m != nil {
		res.Level = m[1]
	}
	return res
}
