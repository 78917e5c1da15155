package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/haptic-relay/internal/config"
	"github.com/rickgao/haptic-relay/internal/database"
)

// Errors
var (
	ErrClosed = errors.New("notifier closed")
)

// Notifier publishes and receives change notifications.
type Notifier interface {
	// Notify publishes one notification.
	Notify(ctx context.Context) error

	// Subscribe calls fn once per received notification until ctx is done.
	// fn must not block.
	Subscribe(ctx context.Context, fn func()) error

	// Close releases the notifier's connections.
	Close() error
}

// New builds the notifier selected by cfg.Driver. pool is required by the
// postgres driver and ignored by the others.
func New(ctx context.Context, cfg config.NotifierConfig, dbCfg config.DBConfig, pool *database.Pool, logger *slog.Logger) (Notifier, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if pool == nil {
			return nil, errors.New("postgres notifier requires a database pool")
		}
		return NewPostgres(cfg.Channel, pool, func(ctx context.Context) (ListenConn, error) {
			conn, err := database.Dial(ctx, dbCfg)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}, logger), nil
	case config.DriverRedis:
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.Channel, logger)
	case config.DriverNATS:
		return NewNATS(cfg.NATSURL, cfg.Channel, logger)
	case config.DriverLocal:
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown notifier driver %q", cfg.Driver)
	}
}

// Local fans notifications out to in-process subscribers.
type Local struct {
	mu     sync.RWMutex
	subs   map[uint64]func()
	nextID uint64
	closed bool
}

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{subs: make(map[uint64]func())}
}

func (l *Local) Notify(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrClosed
	}
	for _, fn := range l.subs {
		fn()
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.subs, id)
	l.mu.Unlock()
	return nil
}

// Subscribers returns the number of active subscriptions.
func (l *Local) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
