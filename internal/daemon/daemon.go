// Package daemon schedules device scans and battery checks.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vmorsell/headsetd/internal/clock"
	"github.com/vmorsell/headsetd/internal/gateway"
	"go.uber.org/zap"
)

type Config struct {
	StartupDelay    time.Duration
	ScanInterval    time.Duration
	BatteryInterval time.Duration
	BatteryStagger  time.Duration
	DumpDir         string
}

type Scanner interface {
	Scan(ctx context.Context)
}

type BatteryChecker interface {
	Check(ctx context.Context, attempt int)
}

type Flusher interface {
	Flush() bool
}

type Daemon struct {
	logger  *zap.Logger
	cfg     Config
	clock   clock.Clock
	watcher Scanner
	battery BatteryChecker
	store   Flusher
	cron    *cron.Cron

	mu      sync.Mutex
	timers  []clock.Timer
	stopped bool
}

func New(logger *zap.Logger, cfg Config, c clock.Clock, watcher Scanner, battery BatteryChecker, store Flusher) *Daemon {
	return &Daemon{
		logger:  logger,
		cfg:     cfg,
		clock:   c,
		watcher: watcher,
		battery: battery,
		store:   store,
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}))),
	}
}

// Run starts the schedule and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// Start removes dump files left by a previous run and arms the startup
// timer. Scanning begins once the startup delay has passed.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cfg.DumpDir != "" {
		n, err := gateway.CleanStaleDumps(d.cfg.DumpDir)
		if err != nil {
			d.logger.Warn("failed to clean stale dumps", zap.String("dir", d.cfg.DumpDir), zap.Error(err))
		} else if n > 0 {
			d.logger.Info("removed stale dumps", zap.Int("count", n))
		}
	}

	if _, err := d.cron.AddFunc(every(d.cfg.ScanInterval), func() { d.watcher.Scan(ctx) }); err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	if _, err := d.cron.AddFunc(every(d.cfg.BatteryInterval), func() { d.battery.Check(ctx, 0) }); err != nil {
		return fmt.Errorf("schedule battery check: %w", err)
	}

	d.logger.Info("daemon starting", zap.Duration("startupDelay", d.cfg.StartupDelay))
	d.after(d.cfg.StartupDelay, func() { d.begin(ctx) })
	return nil
}

func (d *Daemon) begin(ctx context.Context) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped || ctx.Err() != nil {
		return
	}

	d.watcher.Scan(ctx)
	d.after(d.cfg.BatteryStagger, func() { d.battery.Check(ctx, 0) })
	d.cron.Start()
	d.logger.Info("scheduling started",
		zap.Duration("scanInterval", d.cfg.ScanInterval),
		zap.Duration("batteryInterval", d.cfg.BatteryInterval),
	)
}

func (d *Daemon) after(delay time.Duration, f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.timers = append(d.timers, d.clock.AfterFunc(delay, f))
}

// Stop halts the schedule, waits for running jobs and writes any pending
// state to storage.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
	d.mu.Unlock()

	<-d.cron.Stop().Done()
	if d.store.Flush() {
		d.logger.Info("flushed pending state")
	}
	d.logger.Info("daemon stopped")
}

// Entries reports how many recurring jobs are scheduled.
func (d *Daemon) Entries() int {
	return len(d.cron.Entries())
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
