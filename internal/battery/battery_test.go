package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmorsell/headsetd/internal/clock"
	"github.com/vmorsell/headsetd/internal/device"
	"github.com/vmorsell/headsetd/internal/gate"
	"github.com/vmorsell/headsetd/internal/gateway"
	"github.com/vmorsell/headsetd/internal/state"
	"github.com/vmorsell/headsetd/pkg/model"
	"go.uber.org/zap/zaptest"
)

var unavailable = gateway.BatteryResult{Output: "BATTERY_UNAVAILABLE", Err: errors.New("unavailable")}

func level(l string) gateway.BatteryResult {
	return gateway.BatteryResult{Level: l, Available: true}
}

type scriptedQuerier struct {
	mu      sync.Mutex
	results []gateway.BatteryResult
	calls   int
}

func (q *scriptedQuerier) QueryBattery(ctx context.Context) gateway.BatteryResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if len(q.results) == 0 {
		return unavailable
	}
	r := q.results[0]
	if len(q.results) > 1 {
		q.results = q.results[1:]
	}
	return r
}

type fixture struct {
	poller   *Poller
	store    *state.Store
	gate     *gate.Gate
	clock    *clock.Fake
	querier  *scriptedQuerier
	notified []model.State
}

func newFixture(t *testing.T, dev string, results ...gateway.BatteryResult) *fixture {
	f := &fixture{
		gate:    &gate.Gate{},
		clock:   clock.NewFake(),
		querier: &scriptedQuerier{results: results},
	}
	mem := model.DefaultMemory()
	mem.CurrentDevice = dev
	f.store = state.NewStore(zaptest.NewLogger(t), mem, nil, state.NotifierFunc(func(st model.State) {
		f.notified = append(f.notified, st)
	}), f.clock, 2*time.Second)
	f.poller = NewPoller(zaptest.NewLogger(t), f.store, f.gate, f.querier, f.clock, DefaultConfig())
	return f
}

func TestPoller_NonBatteryDeviceIsNoop(t *testing.T) {
	f := newFixture(t, device.LogitechG560, level("50"))

	f.poller.Check(context.Background(), 0)

	assert.Equal(t, 0, f.querier.calls)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestPoller_SuccessUpdatesState(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell, level("76"))

	f.poller.Check(context.Background(), 0)

	assert.Equal(t, 1, f.querier.calls)
	assert.Equal(t, "76", f.store.Battery())
	require.Len(t, f.notified, 1)
	assert.Equal(t, "76", f.notified[0].Battery)
	assert.False(t, f.gate.Busy())
}

func TestPoller_UnchangedLevelIsTerminal(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell, level("76"))
	f.poller.Check(context.Background(), 0)
	f.clock.Advance(time.Minute)
	f.notified = nil

	f.poller.Check(context.Background(), 0)

	assert.Empty(t, f.notified)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestPoller_AnswerWithoutLevelIsResolved(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell, gateway.ParseBattery("Found Audeze Maxwell!\n", nil))

	f.poller.Check(context.Background(), 0)

	assert.Equal(t, 1, f.querier.calls)
	assert.Equal(t, model.BatteryUnknown, f.store.Battery())
	assert.Empty(t, f.notified)
	assert.Equal(t, 0, f.clock.Pending(), "no retry is scheduled")
	assert.False(t, f.gate.Busy())
}

func TestPoller_RetriesAfterUnavailable(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell, unavailable, unavailable, level("40"))

	f.poller.Check(context.Background(), 0)
	assert.Equal(t, 1, f.querier.calls)

	d, ok := f.clock.NextIn()
	require.True(t, ok)
	assert.Equal(t, DefaultUnavailableRetry, d)

	f.clock.Advance(DefaultUnavailableRetry)
	assert.Equal(t, 2, f.querier.calls)
	f.clock.Advance(DefaultUnavailableRetry)
	assert.Equal(t, 3, f.querier.calls)
	assert.Equal(t, "40", f.store.Battery())
	assert.Equal(t, 0, f.clock.Pending())
}

func TestPoller_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell)

	f.poller.Check(context.Background(), 0)
	for i := 0; i < 20; i++ {
		f.clock.Advance(DefaultUnavailableRetry)
	}

	assert.Equal(t, DefaultMaxAttempts, f.querier.calls)
	assert.Equal(t, 0, f.clock.Pending())
	assert.Equal(t, model.BatteryUnknown, f.store.Battery())
	assert.Empty(t, f.notified)
}

func TestPoller_BusyRetriesSameAttempt(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell)
	require.True(t, f.gate.TryEnter())

	f.poller.Check(context.Background(), 3)
	assert.Equal(t, 0, f.querier.calls)

	d, ok := f.clock.NextIn()
	require.True(t, ok)
	assert.Equal(t, DefaultBusyRetry, d)

	// Still busy: the attempt is requeued again rather than consumed.
	f.clock.Advance(DefaultBusyRetry)
	assert.Equal(t, 0, f.querier.calls)
	assert.Equal(t, 1, f.clock.Pending())

	f.gate.Exit()
	f.clock.Advance(DefaultBusyRetry)
	assert.Equal(t, 1, f.querier.calls)

	// Attempts 4 through 9 remain.
	for i := 0; i < 20; i++ {
		f.clock.Advance(DefaultUnavailableRetry)
	}
	assert.Equal(t, 7, f.querier.calls)
}

func TestPoller_DeviceChangedDuringRetry(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell)

	f.poller.Check(context.Background(), 0)
	f.store.SwitchDevice(device.LogitechG560)
	f.clock.Advance(DefaultUnavailableRetry)

	assert.Equal(t, 1, f.querier.calls)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestPoller_CancelledContextStopsRetries(t *testing.T) {
	f := newFixture(t, device.AudezeMaxwell)
	ctx, cancel := context.WithCancel(context.Background())

	f.poller.Check(ctx, 0)
	cancel()
	f.clock.Advance(DefaultUnavailableRetry)

	assert.Equal(t, 1, f.querier.calls)
	assert.Equal(t, 0, f.clock.Pending())
}
