// Package watcher tracks the default playback device.
package watcher

import (
	"context"

	"github.com/vmorsell/headsetd/internal/device"
	"github.com/vmorsell/headsetd/internal/gate"
	"github.com/vmorsell/headsetd/internal/gateway"
	"github.com/vmorsell/headsetd/internal/metrics"
	"go.uber.org/zap"
)

// Store is the part of the state store the watcher needs.
type Store interface {
	CurrentDevice() string
	SwitchDevice(id string) (string, bool)
}

// BatteryChecker starts a battery read sequence.
type BatteryChecker interface {
	Check(ctx context.Context, attempt int)
}

type Watcher struct {
	logger  *zap.Logger
	store   Store
	gate    *gate.Gate
	scanner gateway.DeviceScanner
	battery BatteryChecker
}

func NewWatcher(logger *zap.Logger, store Store, g *gate.Gate, scanner gateway.DeviceScanner, battery BatteryChecker) *Watcher {
	return &Watcher{
		logger:  logger,
		store:   store,
		gate:    g,
		scanner: scanner,
		battery: battery,
	}
}

// Scan runs one device scan. A scan that finds the gate held is skipped;
// the next tick tries again.
func (w *Watcher) Scan(ctx context.Context) {
	if !w.gate.RunOrSkip(func() { w.scan(ctx) }) {
		metrics.GateBusy.WithLabelValues(metrics.CallerWatcher).Inc()
		metrics.Scans.WithLabelValues(metrics.ResultSkipped).Inc()
		w.logger.Debug("tools busy, skipping device scan")
	}
}

// scan runs with the gate held.
func (w *Watcher) scan(ctx context.Context) {
	rec, ok, err := w.scanner.ScanDevices(ctx)
	if err != nil {
		metrics.Scans.WithLabelValues(metrics.ResultError).Inc()
		w.logger.Warn("device scan failed", zap.Error(err))
		return
	}
	if !ok {
		metrics.Scans.WithLabelValues(metrics.ResultUnchanged).Inc()
		w.logger.Debug("no default render device in scan output")
		return
	}

	id, ok := device.CleanName(rec.DisplayName())
	if !ok {
		metrics.Scans.WithLabelValues(metrics.ResultUnchanged).Inc()
		w.logger.Debug("ignoring invalid device name", zap.String("raw", rec.DisplayName()))
		return
	}

	prev, changed := w.store.SwitchDevice(id)
	if !changed {
		metrics.Scans.WithLabelValues(metrics.ResultUnchanged).Inc()
		return
	}
	metrics.Scans.WithLabelValues(metrics.ResultChanged).Inc()
	w.logger.Info("device switched", zap.String("from", prev), zap.String("to", id))

	if device.HasBattery(id) && w.battery != nil {
		// The gate is still held here, so this check is requeued behind it.
		w.logger.Info("battery device selected, checking battery", zap.String("device", id))
		w.battery.Check(ctx, 0)
	}
}
