// Package state holds the authoritative in-memory record of the active
// device, battery level and per-device profiles.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/vmorsell/headsetd/internal/clock"
	"github.com/vmorsell/headsetd/internal/device"
	"github.com/vmorsell/headsetd/internal/metrics"
	"github.com/vmorsell/headsetd/pkg/model"
	"go.uber.org/zap"
)

const persistTimeout = 10 * time.Second

var (
	// defaultSeenProfile is created when a device first becomes active.
	defaultSeenProfile = model.Profile{Volume: model.VolumeInt(50), Mute: model.MuteOff}
	// defaultProfile is the read default and the profile created by a
	// mutation for a device without one.
	defaultProfile = model.Profile{Volume: model.VolumeInt(0), Mute: model.MuteOff}
)

// Notifier receives the projection after every observable change.
type Notifier interface {
	Notify(st model.State)
}

type NotifierFunc func(st model.State)

func (f NotifierFunc) Notify(st model.State) { f(st) }

// Saver writes a snapshot of the memory document.
type Saver interface {
	Save(ctx context.Context, mem model.Memory) error
}

type Store struct {
	logger   *zap.Logger
	saver    Saver
	notifier Notifier
	debounce *Debouncer

	// emit is held from a mutation through its notification so observers
	// see changes in the order they were applied.
	emit sync.Mutex

	mu  sync.RWMutex
	mem model.Memory
}

func NewStore(logger *zap.Logger, mem model.Memory, saver Saver, notifier Notifier, c clock.Clock, debounce time.Duration) *Store {
	if mem.Profiles == nil {
		mem.Profiles = map[string]model.Profile{}
	}
	if mem.CurrentDevice == "" {
		mem.CurrentDevice = model.DeviceDetecting
	}
	if mem.Battery == "" {
		mem.Battery = model.BatteryUnknown
	}
	s := &Store{
		logger:   logger,
		saver:    saver,
		notifier: notifier,
		mem:      mem,
	}
	s.debounce = NewDebouncer(c, debounce, s.persist)
	return s
}

// SetNotifier replaces the change observer.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Current returns the projection pushed to observers. It never creates a
// profile.
func (s *Store) Current() model.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project()
}

func (s *Store) project() model.State {
	dev := s.mem.CurrentDevice
	p, ok := s.mem.Profiles[dev]
	if !ok {
		p = defaultProfile
	}
	batt := model.BatteryUnknown
	if device.HasBattery(dev) {
		batt = s.mem.Battery
	}
	return model.State{
		Device:  dev,
		Volume:  p.Volume,
		Mute:    p.Mute,
		Battery: batt,
	}
}

func (s *Store) CurrentDevice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mem.CurrentDevice
}

func (s *Store) Battery() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mem.Battery
}

// Profile returns the stored profile for id, or the read default.
func (s *Store) Profile(id string) (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.mem.Profiles[id]
	if !ok {
		return defaultProfile, false
	}
	return p, true
}

func (s *Store) ProfileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mem.Profiles)
}

// Snapshot returns a deep copy of the memory document.
func (s *Store) Snapshot() model.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem := s.mem
	mem.Profiles = make(map[string]model.Profile, len(s.mem.Profiles))
	for k, v := range s.mem.Profiles {
		mem.Profiles[k] = v
	}
	return mem
}

// SwitchDevice makes id the current device and makes sure it has a
// profile. It returns the previous device and whether anything changed.
func (s *Store) SwitchDevice(id string) (string, bool) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	prev := s.mem.CurrentDevice
	if id == "" || id == prev {
		s.mu.Unlock()
		return prev, false
	}
	s.mem.CurrentDevice = id
	if _, ok := s.mem.Profiles[id]; !ok {
		s.mem.Profiles[id] = defaultSeenProfile
	}
	st := s.project()
	s.mu.Unlock()

	s.changed(st)
	return prev, true
}

// SetBattery stores a new battery level. It reports whether it differed.
func (s *Store) SetBattery(level string) bool {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	if level == s.mem.Battery {
		s.mu.Unlock()
		return false
	}
	s.mem.Battery = level
	st := s.project()
	s.mu.Unlock()

	s.changed(st)
	return true
}

// ProfileUpdate holds the requested values. Nil fields are left alone.
type ProfileUpdate struct {
	Volume *model.Volume
	Mute   *string
}

// UpdateCurrentProfile applies u to the active device's profile. Observers
// and persistence are triggered once, and only if a value changed.
func (s *Store) UpdateCurrentProfile(u ProfileUpdate) bool {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	dev := s.mem.CurrentDevice
	p, ok := s.mem.Profiles[dev]
	if !ok {
		p = defaultProfile
	}
	changed := false
	if u.Volume != nil && !p.Volume.Equal(*u.Volume) {
		p.Volume = *u.Volume
		changed = true
	}
	if u.Mute != nil && p.Mute != *u.Mute {
		p.Mute = *u.Mute
		changed = true
	}
	s.mem.Profiles[dev] = p
	if !changed {
		s.mu.Unlock()
		return false
	}
	st := s.project()
	s.mu.Unlock()

	s.changed(st)
	return true
}

func (s *Store) changed(st model.State) {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()

	if n != nil {
		n.Notify(st)
	}
	s.debounce.Trigger()
}

// Flush writes a pending snapshot now instead of waiting for the quiet
// period to end.
func (s *Store) Flush() bool {
	return s.debounce.Flush()
}

// persist is best effort: live memory stays authoritative.
func (s *Store) persist() {
	if s.saver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.saver.Save(ctx, s.Snapshot()); err != nil {
		metrics.PersistWrites.WithLabelValues(metrics.ResultError).Inc()
		s.logger.Debug("failed to persist state", zap.Error(err))
		return
	}
	metrics.PersistWrites.WithLabelValues(metrics.ResultOK).Inc()
}
