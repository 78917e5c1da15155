package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/haptic-relay/internal/auth"
	"github.com/rickgao/haptic-relay/internal/connection"
	"github.com/rickgao/haptic-relay/internal/metrics"
	"github.com/rickgao/haptic-relay/internal/room"
)

// DeviceIDParam is the optional handshake parameter carrying a stable user id.
const DeviceIDParam = "deviceId"

// readLimitSlack lets frames slightly above the ceiling reach the size check,
// so they are counted as oversized instead of failing inside the socket.
const readLimitSlack = 1024

// Rooms is the part of the room directory used by handlers.
type Rooms interface {
	FindByKey(ctx context.Context, key string) (room.Room, error)
	FindByMember(ctx context.Context, userID string) (room.Room, error)
	AddMember(ctx context.Context, roomID int64, userID string) error
	RemoveMember(ctx context.Context, userID string) error
}

// Enqueuer stores relayed payloads.
type Enqueuer interface {
	Enqueue(ctx context.Context, roomID int64, authorID string, recipientIDs []string, data json.RawMessage) error
}

// Config configures a Server.
type Config struct {
	MaxFrameBytes int
	Transport     connection.TransportConfig
}

// Server upgrades authenticated requests and runs the per-connection read loop.
type Server struct {
	cfg      Config
	checker  *auth.Checker
	registry *connection.Registry
	rooms    Rooms
	queue    Enqueuer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a protocol server.
func NewServer(cfg Config, checker *auth.Checker, registry *connection.Registry, rooms Rooms, queue Enqueuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Transport.ReadLimit = int64(cfg.MaxFrameBytes + readLimitSlack)

	return &Server{
		cfg:      cfg,
		checker:  checker,
		registry: registry,
		rooms:    rooms,
		queue:    queue,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates, upgrades and serves one connection until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checker.Valid(auth.FromRequest(r)) {
		metrics.HandshakesRejected.Inc()
		s.logger.Info("handshake rejected", "remote_addr", r.RemoteAddr, "error", ErrAuthRejected)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.URL.Query().Get(DeviceIDParam)
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	t := connection.NewTransport(conn, s.cfg.Transport)
	u := s.registry.Register(t, id)
	s.logger.Info("user connected", "user_id", u.ID, "remote_addr", r.RemoteAddr)

	s.serve(r.Context(), u, t)
}

// serve reads frames until the connection fails or a frame is fatal.
func (s *Server) serve(ctx context.Context, u *connection.User, t *connection.WSTransport) {
	logger := s.logger.With("user_id", u.ID)

	for {
		data, err := t.ReadMessage()
		if err != nil {
			reason := connection.ReasonClosed
			if errors.Is(err, websocket.ErrReadLimit) {
				metrics.FramesRejected.WithLabelValues("too_large").Inc()
				reason = connection.ReasonProtocol
			}
			logger.Debug("read loop ended", "error", err)
			s.registry.Evict(ctx, u, reason)
			return
		}

		if err := s.handleFrame(ctx, u, data); err != nil {
			var ve *ValidationError
			switch {
			case isFatal(err):
				logger.Warn("evicting user for invalid frame", "error", err)
				s.registry.Evict(ctx, u, connection.ReasonProtocol)
				return
			case errors.As(err, &ve):
				logger.Debug("frame rejected", "error", err)
			default:
				logger.Error("handler failed", "error", err)
			}
		}
	}
}

// handleFrame touches, checks, parses and dispatches one inbound frame.
func (s *Server) handleFrame(ctx context.Context, u *connection.User, data []byte) error {
	s.registry.Touch(u)

	if len(data) > s.cfg.MaxFrameBytes {
		metrics.FramesRejected.WithLabelValues("too_large").Inc()
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	f, err := ParseFrame(data)
	if err != nil {
		metrics.FramesRejected.WithLabelValues("malformed").Inc()
		return err
	}

	return s.dispatch(ctx, u, f)
}

func (s *Server) dispatch(ctx context.Context, u *connection.User, f Frame) error {
	switch f.Type {
	case TypeConnectToRoom:
		metrics.FramesReceived.WithLabelValues(string(f.Type)).Inc()
		return s.handleConnectToRoom(ctx, u, f.Data)
	case TypeSendPayload:
		metrics.FramesReceived.WithLabelValues(string(f.Type)).Inc()
		return s.handleSendPayload(ctx, u, f.Data)
	case TypeHeartbeat:
		metrics.FramesReceived.WithLabelValues(string(f.Type)).Inc()
		return nil
	default:
		metrics.FramesRejected.WithLabelValues("unknown_type").Inc()
		return fmt.Errorf("%w: %q", ErrUnhandledFrameType, f.Type)
	}
}

func (s *Server) handleConnectToRoom(ctx context.Context, u *connection.User, data json.RawMessage) error {
	r, err := s.rooms.FindByKey(ctx, roomKeyFrom(data))
	if errors.Is(err, room.ErrRoomNotFound) {
		return s.reject(u, KindNoRoomForKey, MsgNoRoomForKey)
	}
	if err != nil {
		return fmt.Errorf("find room: %w", err)
	}

	err = s.rooms.AddMember(ctx, r.ID, u.ID)
	if errors.Is(err, room.ErrRoomNotFound) {
		// Swept between lookup and join.
		return s.reject(u, KindNoRoomForKey, MsgNoRoomForKey)
	}
	if err != nil {
		return fmt.Errorf("join room %d: %w", r.ID, err)
	}

	// An eviction that ran its unregister hook before AddMember landed
	// would otherwise leave the id in the room.
	if cur, ok := s.registry.FindByID(u.ID); !ok || cur != u {
		if !ok {
			if err := s.rooms.RemoveMember(ctx, u.ID); err != nil {
				return fmt.Errorf("leave room %d after eviction: %w", r.ID, err)
			}
		}
		s.logger.Debug("join dropped for departed connection", "user_id", u.ID, "room_id", r.ID)
		return nil
	}

	return connection.Send(u, connection.Message{Type: ConfirmRoomConnection})
}

func (s *Server) handleSendPayload(ctx context.Context, u *connection.User, data json.RawMessage) error {
	if err := validatePayload(data); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		return s.reject(u, ve.Kind, ve.Message)
	}

	r, err := s.rooms.FindByMember(ctx, u.ID)
	if errors.Is(err, room.ErrRoomNotFound) {
		return s.reject(u, KindNotInRoom, MsgNotInRoom)
	}
	if err != nil {
		return fmt.Errorf("find room by member: %w", err)
	}

	if err := s.queue.Enqueue(ctx, r.ID, u.ID, r.OtherMembers(u.ID), data); err != nil {
		return fmt.Errorf("enqueue payload: %w", err)
	}

	return connection.Send(u, connection.Message{Type: ConfirmPayloadSent})
}

// reject sends text to u as an error frame and returns the matching
// ValidationError.
func (s *Server) reject(u *connection.User, kind ValidationKind, text string) error {
	if err := connection.Send(u, connection.ErrorMessage{Error: text}); err != nil {
		return fmt.Errorf("send error frame: %w", err)
	}
	return &ValidationError{Kind: kind, Message: text}
}
