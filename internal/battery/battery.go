// Package battery polls the headset battery level through the tool gate.
package battery

import (
	"context"
	"strconv"
	"time"

	"github.com/vmorsell/headsetd/internal/clock"
	"github.com/vmorsell/headsetd/internal/device"
	"github.com/vmorsell/headsetd/internal/gate"
	"github.com/vmorsell/headsetd/internal/gateway"
	"github.com/vmorsell/headsetd/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultBusyRetry        = time.Second
	DefaultUnavailableRetry = 20 * time.Second
	DefaultMaxAttempts      = 10
)

type Config struct {
	// BusyRetry is the delay before retrying the same attempt when the
	// gate is held.
	BusyRetry time.Duration
	// UnavailableRetry is the delay before the next attempt after the
	// headset did not answer.
	UnavailableRetry time.Duration
	MaxAttempts      int
}

func DefaultConfig() Config {
	return Config{
		BusyRetry:        DefaultBusyRetry,
		UnavailableRetry: DefaultUnavailableRetry,
		MaxAttempts:      DefaultMaxAttempts,
	}
}

// Store is the part of the state store the poller reads and writes.
type Store interface {
	CurrentDevice() string
	SetBattery(level string) bool
}

type Poller struct {
	logger  *zap.Logger
	store   Store
	gate    *gate.Gate
	querier gateway.BatteryQuerier
	clock   clock.Clock
	cfg     Config
}

func NewPoller(logger *zap.Logger, store Store, g *gate.Gate, querier gateway.BatteryQuerier, c clock.Clock, cfg Config) *Poller {
	return &Poller{
		logger:  logger,
		store:   store,
		gate:    g,
		querier: querier,
		clock:   c,
		cfg:     cfg,
	}
}

// Check runs attempt number attempt (zero based) of a battery read. It is
// a no-op unless the current device has a battery.
func (p *Poller) Check(ctx context.Context, attempt int) {
	if ctx.Err() != nil {
		return
	}
	dev := p.store.CurrentDevice()
	if !device.HasBattery(dev) {
		return
	}
	if attempt == 0 {
		p.logger.Info("checking battery", zap.String("device", dev))
	}

	var res gateway.BatteryResult
	ran := p.gate.RunOrRetry(p.clock, p.cfg.BusyRetry,
		func() { res = p.querier.QueryBattery(ctx) },
		func() { p.Check(ctx, attempt) },
	)
	if !ran {
		metrics.GateBusy.WithLabelValues(metrics.CallerBattery).Inc()
		p.logger.Debug("tools busy, retrying battery check",
			zap.Int("attempt", attempt+1),
			zap.Duration("in", p.cfg.BusyRetry))
		return
	}

	p.handle(ctx, attempt, res)
}

func (p *Poller) handle(ctx context.Context, attempt int, res gateway.BatteryResult) {
	if !res.Available {
		metrics.BatteryAttempts.WithLabelValues(metrics.ResultUnavailable).Inc()
		p.logger.Info("battery unavailable",
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", p.cfg.MaxAttempts),
			zap.Error(res.Err))

		if attempt+1 < p.cfg.MaxAttempts {
			next := attempt + 1
			p.clock.AfterFunc(p.cfg.UnavailableRetry, func() { p.Check(ctx, next) })
			return
		}
		metrics.BatteryAttempts.WithLabelValues(metrics.ResultGaveUp).Inc()
		p.logger.Warn("battery retries exhausted, waiting for next cycle",
			zap.Int("maxAttempts", p.cfg.MaxAttempts))
		return
	}

	if attempt > 0 {
		p.logger.Info("battery read succeeded after retry", zap.Int("attempt", attempt+1))
	}

	if res.Level == "" {
		metrics.BatteryAttempts.WithLabelValues(metrics.ResultUnchanged).Inc()
		p.logger.Info("no battery level in tool output", zap.String("output", res.Output))
		return
	}

	if n, err := strconv.Atoi(res.Level); err == nil {
		metrics.BatteryLevel.Set(float64(n))
	}

	if !p.store.SetBattery(res.Level) {
		metrics.BatteryAttempts.WithLabelValues(metrics.ResultUnchanged).Inc()
		p.logger.Debug("battery level unchanged", zap.String("level", res.Level))
		return
	}
	metrics.BatteryAttempts.WithLabelValues(metrics.ResultChanged).Inc()
	p.logger.Info("battery updated", zap.String("level", res.Level+"%"))
}
