package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmorsell/headsetd/internal/clock"
	"github.com/vmorsell/headsetd/internal/state"
	"github.com/vmorsell/headsetd/internal/storage"
	"github.com/vmorsell/headsetd/pkg/model"
	"go.uber.org/zap/zaptest"
)

const debounce = 2 * time.Second

type nopObservers struct{ attached int }

func (n *nopObservers) Attach(conn *websocket.Conn, current func() model.State) {
	n.attached++
	conn.Close()
}

type fixture struct {
	handler  http.Handler
	store    *state.Store
	clock    *clock.Fake
	notified []model.State
}

func newFixture(t *testing.T, mem model.Memory, connLimit int, staticDir string) *fixture {
	return newFixtureWithSaver(t, mem, nil, connLimit, staticDir)
}

func newFixtureWithSaver(t *testing.T, mem model.Memory, saver state.Saver, connLimit int, staticDir string) *fixture {
	f := &fixture{clock: clock.NewFake()}
	f.store = state.NewStore(zaptest.NewLogger(t), mem, saver, state.NotifierFunc(func(st model.State) {
		f.notified = append(f.notified, st)
	}), f.clock, debounce)
	f.handler = NewHandler(zaptest.NewLogger(t), f.store, &nopObservers{}, connLimit, staticDir).Routes()
	return f
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func monitorMemory(volume string) model.Memory {
	mem := model.DefaultMemory()
	mem.CurrentDevice = "Monitor"
	mem.Profiles["Monitor"] = model.Profile{Volume: model.Volume(volume), Mute: model.MuteOff}
	return mem
}

func TestHandler_Update_Unchanged(t *testing.T) {
	f := newFixture(t, monitorMemory("30"), 0, "")

	rec := f.get("/update?vol=30")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.notified)
	assert.Equal(t, 0, f.clock.Pending(), "no persistence scheduled")
}

func TestHandler_Update_Changed(t *testing.T) {
	f := newFixture(t, monitorMemory("30"), 0, "")

	rec := f.get("/update?vol=31")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.notified, 1)
	assert.Equal(t, model.Volume("31"), f.notified[0].Volume)
	assert.Equal(t, 1, f.clock.Pending())
}

func TestHandler_Update_VolumeAndMute(t *testing.T) {
	f := newFixture(t, monitorMemory("30"), 0, "")

	rec := f.get("/update?vol=80&mute=On")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.notified, 1)
	assert.Equal(t, model.State{Device: "Monitor", Volume: "80", Mute: model.MuteOn, Battery: model.BatteryUnknown}, f.notified[0])
}

func TestHandler_Update_NoParams(t *testing.T) {
	f := newFixture(t, monitorMemory("30"), 0, "")

	rec := f.get("/update")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Empty(t, f.notified)
}

func TestHandler_Update_CreatesProfileForActiveDevice(t *testing.T) {
	mem := model.DefaultMemory()
	mem.CurrentDevice = "New Device"
	f := newFixture(t, mem, 0, "")

	f.get("/update?mute=On")

	p, ok := f.store.Profile("New Device")
	require.True(t, ok)
	assert.Equal(t, model.Profile{Volume: "0", Mute: model.MuteOn}, p)
}

func TestHandler_Update_NonJSONNumberVolume(t *testing.T) {
	for _, vol := range []string{"05", ".5", "NaN", "Inf", "1_0"} {
		t.Run(vol, func(t *testing.T) {
			snapshots := storage.NewFileStorage(filepath.Join(t.TempDir(), "volume_data.json"))
			f := newFixtureWithSaver(t, monitorMemory("30"), snapshots, 0, "")

			rec := f.get("/update?vol=" + url.QueryEscape(vol))
			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, f.notified, 1)

			f.clock.Advance(3 * time.Second)
			mem, err := snapshots.Load(context.Background())
			require.NoError(t, err, "snapshot must be written")
			assert.Equal(t, model.Volume(vol), mem.Profiles["Monitor"].Volume)

			st := f.get("/state")
			require.True(t, json.Valid(st.Body.Bytes()), "body %q", st.Body.String())
			var got map[string]any
			require.NoError(t, json.Unmarshal(st.Body.Bytes(), &got))
			assert.Equal(t, vol, got["vol"])

			f.get("/update?vol=" + url.QueryEscape(vol))
			assert.Len(t, f.notified, 1, "repeating the value is not a change")
		})
	}
}

func TestHandler_State(t *testing.T) {
	f := newFixture(t, monitorMemory("42"), 0, "")

	rec := f.get("/state")

	assert.Equal(t, http.StatusOK, rec.Code)
	var st model.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, model.State{Device: "Monitor", Volume: "42", Mute: model.MuteOff, Battery: model.BatteryUnknown}, st)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandler_WS_RateLimited(t *testing.T) {
	f := newFixture(t, model.DefaultMemory(), 1, "")

	// A plain GET fails the upgrade but still counts as an attempt.
	first := f.get("/ws")
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := f.get("/ws")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestHandler_Static(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>remote</html>"), 0o644))
	f := newFixture(t, model.DefaultMemory(), 0, dir)

	rec := f.get("/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "remote")
}

func TestHandler_NoStaticByDefault(t *testing.T) {
	f := newFixture(t, model.DefaultMemory(), 0, "")

	rec := f.get("/")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSourceIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "192.168.1.20:51234"
	assert.Equal(t, "192.168.1.20", getSourceIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", getSourceIP(req))
}
