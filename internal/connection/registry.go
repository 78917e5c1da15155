package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/haptic-relay/internal/metrics"
)

// UnregisterHook runs after a user leaves the registry. The room directory
// uses it to drop the user's membership.
type UnregisterHook func(ctx context.Context, userID string) error

// User is a registered connection.
type User struct {
	ID          string
	ConnectedAt time.Time

	transport    Transport
	lastActive   atomic.Int64 // Unix nanoseconds of the last inbound frame
	awaitingPong atomic.Bool
}

// LastActiveAt returns the time of the last inbound frame.
func (u *User) LastActiveAt() time.Time {
	return time.Unix(0, u.lastActive.Load())
}

// AwaitingPong reports whether the last probe is still unacknowledged.
func (u *User) AwaitingPong() bool {
	return u.awaitingPong.Load()
}

// Transport returns the user's connection.
func (u *User) Transport() Transport {
	return u.transport
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithUnregisterHook sets the hook run for every evicted user.
func WithUnregisterHook(hook UnregisterHook) Option {
	return func(r *Registry) {
		r.hook = hook
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry owns the set of live connections.
type Registry struct {
	logger *slog.Logger
	hook   UnregisterHook
	now    func() time.Time

	mu    sync.RWMutex
	users map[string]*User
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
		now:    time.Now,
		users:  make(map[string]*User),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetUnregisterHook replaces the unregister hook. Used when the hook's owner
// is built after the registry.
func (r *Registry) SetUnregisterHook(hook UnregisterHook) {
	r.mu.Lock()
	r.hook = hook
	r.mu.Unlock()
}

// Register adds a user for an authenticated transport. If id is already
// registered, the older transport is closed and replaced; room membership is
// keyed by id and carries over to the new connection.
func (r *Registry) Register(t Transport, id string) *User {
	u := &User{
		ID:          id,
		ConnectedAt: r.now(),
		transport:   t,
	}
	u.lastActive.Store(u.ConnectedAt.UnixNano())
	t.OnPong(func() { u.awaitingPong.Store(false) })

	r.mu.Lock()
	prev := r.users[id]
	r.users[id] = u
	r.mu.Unlock()

	if prev != nil {
		prev.transport.Close()
		metrics.ConnectionsEvicted.WithLabelValues(ReasonReplaced).Inc()
		r.logger.Info("user replaced by new connection", "user_id", id)
	}

	metrics.ConnectionsOpened.Inc()
	r.logger.Debug("user registered", "user_id", id)
	return u
}

// Unregister removes u, closes its transport and runs the unregister hook.
// It is idempotent; only the call that actually removes u runs the hook, and
// a user already replaced by a newer connection only has its transport closed.
func (r *Registry) Unregister(ctx context.Context, u *User) {
	r.mu.Lock()
	removed := r.users[u.ID] == u
	if removed {
		delete(r.users, u.ID)
	}
	hook := r.hook
	r.mu.Unlock()

	u.transport.Close()

	if !removed || hook == nil {
		return
	}
	if err := hook(ctx, u.ID); err != nil {
		r.logger.Error("unregister hook failed", "user_id", u.ID, "error", err)
	}
}

// Evict unregisters u and records why.
func (r *Registry) Evict(ctx context.Context, u *User, reason string) {
	r.mu.RLock()
	current := r.users[u.ID] == u
	r.mu.RUnlock()

	r.Unregister(ctx, u)

	if current {
		metrics.ConnectionsEvicted.WithLabelValues(reason).Inc()
		r.logger.Info("user evicted", "user_id", u.ID, "reason", reason)
	}
}

// Touch records inbound activity for u.
func (r *Registry) Touch(u *User) {
	u.lastActive.Store(r.now().UnixNano())
}

// ForEach calls fn for a snapshot of the registered users. fn may call back
// into the registry.
func (r *Registry) ForEach(fn func(u *User)) {
	for _, u := range r.snapshot() {
		fn(u)
	}
}

// FindByID returns the user registered under id.
func (r *Registry) FindByID(id string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

// IDs returns the ids of all registered users.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// SendMessageToUser encodes msg as JSON and writes it to the user's transport.
func (r *Registry) SendMessageToUser(id string, msg any) error {
	u, ok := r.FindByID(id)
	if !ok {
		return fmt.Errorf("send to %s: %w", id, ErrNotConnected)
	}
	return Send(u, msg)
}

// SendErrorToUser writes an {error} frame to the user.
func (r *Registry) SendErrorToUser(id, text string) error {
	return r.SendMessageToUser(id, ErrorMessage{Error: text})
}

// CloseAll closes every transport and empties the registry without running
// the unregister hook.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	users := r.users
	r.users = make(map[string]*User)
	r.mu.Unlock()

	for _, u := range users {
		u.transport.Close()
	}
	r.logger.Info("closed all connections", "count", len(users))
}

func (r *Registry) snapshot() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	return users
}

// Send encodes msg as JSON and writes it to u.
func Send(u *User, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := u.transport.Send(data); err != nil {
		return fmt.Errorf("send to %s: %w", u.ID, err)
	}
	return nil
}
