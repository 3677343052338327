package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultChanged     = "changed"
	ResultUnchanged   = "unchanged"
	ResultSkipped     = "skipped"
	ResultUnavailable = "unavailable"
	ResultGaveUp      = "gave_up"

	CallerWatcher = "watcher"
	CallerBattery = "battery"
)

var (
	Scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headsetd_device_scans_total",
			Help: "Device scans by outcome",
		},
		[]string{"result"},
	)

	BatteryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headsetd_battery_attempts_total",
			Help: "Battery query attempts by outcome",
		},
		[]string{"result"},
	)

	GateBusy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headsetd_gate_busy_total",
			Help: "Times a caller found the tool gate held",
		},
		[]string{"caller"},
	)

	PersistWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headsetd_persist_writes_total",
			Help: "Snapshot writes by result",
		},
		[]string{"result"},
	)

	BatteryLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "headsetd_battery_level_percent",
			Help: "Last battery level read from the headset",
		},
	)

	Observers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "headsetd_observers",
			Help: "Connected push observers",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
