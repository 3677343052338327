package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/vmorsell/headsetd/internal/metrics"
	"github.com/vmorsell/headsetd/internal/ratelimit"
	"github.com/vmorsell/headsetd/internal/state"
	"github.com/vmorsell/headsetd/pkg/model"
	"go.uber.org/zap"
)

const (
	RouteUpdate  = "/update"
	RouteState   = "/state"
	RouteWS      = "/ws"
	RouteMetrics = "/metrics"

	ParamVolume = "vol"
	ParamMute   = "mute"

	readBufferSize  = 1024
	writeBufferSize = 1024

	ErrRateLimited = "rate limit exceeded"
	ErrUpgrade     = "websocket upgrade failed"
)

// Store is what the handlers need from the state store.
type Store interface {
	Current() model.State
	UpdateCurrentProfile(u state.ProfileUpdate) bool
}

// Observers accepts new push connections.
type Observers interface {
	Attach(conn *websocket.Conn, current func() model.State)
}

type Handler struct {
	logger        *zap.Logger
	store         Store
	observers     Observers
	connRateLimit *ratelimit.RateLimiter
	upgrader      websocket.Upgrader
	staticDir     string
}

func NewHandler(logger *zap.Logger, store Store, observers Observers, connLimit int, staticDir string) *Handler {
	return &Handler{
		logger:        logger,
		store:         store,
		observers:     observers,
		connRateLimit: ratelimit.NewRateLimiter(connLimit, ratelimit.DefaultWindowSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     checkOrigin,
		},
		staticDir: staticDir,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+RouteUpdate, h.handleUpdate)
	mux.HandleFunc("GET "+RouteState, h.handleState)
	mux.HandleFunc("GET "+RouteWS, h.handleWS)
	mux.Handle("GET "+RouteMetrics, metrics.Handler())
	if h.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(h.staticDir)))
	}
	return allowAnyOrigin(mux)
}

// handleUpdate changes the active device's profile. It always answers 200,
// whether or not anything changed.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var u state.ProfileUpdate
	if vals, ok := q[ParamVolume]; ok && len(vals) > 0 {
		v := model.Volume(vals[0])
		u.Volume = &v
	}
	if vals, ok := q[ParamMute]; ok && len(vals) > 0 {
		m := vals[0]
		u.Mute = &m
	}

	if h.store.UpdateCurrentProfile(u) {
		h.logger.Debug("profile updated", zap.String("query", r.URL.RawQuery))
	}
	h.successResponse(w)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.store.Current()); err != nil {
		h.logger.Error("failed to write state", zap.Error(err))
	}
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	sourceIP := getSourceIP(r)
	if !h.connRateLimit.Allow(sourceIP) {
		h.logger.Warn("connection rate limited", zap.String("sourceIP", sourceIP))
		h.errorResponse(w, http.StatusTooManyRequests, ErrRateLimited)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn(ErrUpgrade, zap.String("sourceIP", sourceIP), zap.Error(err))
		return
	}
	h.observers.Attach(conn, h.store.Current)
}

func getSourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkOrigin accepts every origin; clients run on the local network.
func checkOrigin(r *http.Request) bool {
	return true
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) successResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(http.StatusText(http.StatusOK)))
}

func (h *Handler) errorResponse(w http.ResponseWriter, statusCode int, message string) {
	http.Error(w, message, statusCode)
}
