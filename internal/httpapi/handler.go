package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/haptic-relay/internal/auth"
	"github.com/rickgao/haptic-relay/internal/database"
	"github.com/rickgao/haptic-relay/internal/metrics"
	"github.com/rickgao/haptic-relay/internal/room"
	"github.com/rickgao/haptic-relay/internal/version"
)

// DeviceIDHeader identifies the caller of the REST routes.
const DeviceIDHeader = "deviceId"

// maxLogBody caps client diagnostic payloads.
const maxLogBody = 64 * 1024

// Rooms is the part of the room directory used by the REST routes.
type Rooms interface {
	CreateOrReuse(ctx context.Context, creatorID string) (room.Room, error)
	Count(ctx context.Context) (int, error)
}

// Users reports the number of registered connections.
type Users interface {
	Count() int
}

// PoolStatser reports connection pool state.
type PoolStatser interface {
	Stats() database.PoolStats
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithPool includes pool stats in /health.
func WithPool(pool PoolStatser) Option {
	return func(h *Handler) {
		h.pool = pool
	}
}

// WithMetrics serves Prometheus metrics at path.
func WithMetrics(path string) Option {
	return func(h *Handler) {
		h.metricsPath = path
	}
}

// Handler routes REST calls and hands everything else to the WebSocket server.
type Handler struct {
	mux         *http.ServeMux
	checker     *auth.Checker
	users       Users
	rooms       Rooms
	pool        PoolStatser
	metricsPath string
	logger      *slog.Logger
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status              string              `json:"status"`
	Version             string              `json:"version"`
	TotalConnectedUsers int                 `json:"totalConnectedUsers"`
	TotalOpenRooms      int                 `json:"totalOpenRooms"`
	Pool                *database.PoolStats `json:"pool,omitempty"`
	Error               string              `json:"error,omitempty"`
}

// RoomResponse is the body of POST /room.
type RoomResponse struct {
	RoomKey string `json:"roomKey"`
}

// NewHandler creates the relay's HTTP handler. ws serves the WebSocket
// handshake on / and /ws.
func NewHandler(checker *auth.Checker, ws http.Handler, users Users, rooms Rooms, opts ...Option) *Handler {
	h := &Handler{
		mux:     http.NewServeMux(),
		checker: checker,
		users:   users,
		rooms:   rooms,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.Handle("POST /room", checker.Middleware(requireDeviceID(http.HandlerFunc(h.createRoom))))
	h.mux.Handle("POST /log", checker.Middleware(http.HandlerFunc(h.clientLog)))
	if h.metricsPath != "" {
		h.mux.Handle("GET "+h.metricsPath, metrics.Handler())
	}
	h.mux.Handle("/ws", ws)
	h.mux.Handle("/", ws)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:              "ok",
		Version:             version.Version,
		TotalConnectedUsers: h.users.Count(),
	}

	status := http.StatusOK
	rooms, err := h.rooms.Count(ctx)
	if err != nil {
		h.logger.Warn("health check failed to count rooms", "error", err)
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	resp.TotalOpenRooms = rooms

	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Pool = &stats
	}

	writeJSON(w, status, resp)
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(DeviceIDHeader)

	rm, err := h.rooms.CreateOrReuse(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, room.ErrKeySpaceExhausted) {
			h.logger.Error("room key space exhausted", "creator_id", deviceID)
		} else {
			h.logger.Error("failed to create room", "creator_id", deviceID, "error", err)
		}
		http.Error(w, "could not create room", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, RoomResponse{RoomKey: rm.Key})
}

func (h *Handler) clientLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLogBody))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	var entry any
	if err := json.Unmarshal(body, &entry); err != nil {
		http.Error(w, "body must be JSON", http.StatusBadRequest)
		return
	}

	h.logger.Info("client log",
		"device_id", r.Header.Get(DeviceIDHeader),
		"entry", entry,
	)
	w.WriteHeader(http.StatusOK)
}

// requireDeviceID rejects requests without a deviceId header with 403.
func requireDeviceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(DeviceIDHeader) == "" {
			http.Error(w, "missing deviceId header", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
