package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/haptic-relay/internal/database"
)

// ListenConn is the subset of *pgx.Conn needed to LISTEN.
type ListenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ListenDialer opens the dedicated listening connection.
type ListenDialer func(ctx context.Context) (ListenConn, error)

// Postgres publishes with pg_notify through the managed pool and listens on a
// dedicated connection outside it, so a long LISTEN never holds a pool slot.
type Postgres struct {
	channel string
	pool    *database.Pool
	dial    ListenDialer
	logger  *slog.Logger

	retryDelay time.Duration
}

// NewPostgres creates a LISTEN/NOTIFY notifier.
func NewPostgres(channel string, pool *database.Pool, dial ListenDialer, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{
		channel:    channel,
		pool:       pool,
		dial:       dial,
		logger:     logger.With("notifier", "postgres", "channel", channel),
		retryDelay: 2 * time.Second,
	}
}

func (p *Postgres) Notify(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, '')", p.channel); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Subscribe listens until ctx is done. A dropped listening connection is
// re-dialed after a short delay, and fn runs once the new LISTEN is in place.
func (p *Postgres) Subscribe(ctx context.Context, fn func()) error {
	for redial := false; ; redial = true {
		err := p.listen(ctx, fn, redial)
		if ctx.Err() != nil {
			return nil
		}

		p.logger.Warn("listen connection lost, reconnecting", "error", err, "retry_in", p.retryDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.retryDelay):
		}
	}
}

// listen holds one LISTEN session. After a redial it triggers fn once,
// since notifications sent while disconnected are lost.
func (p *Postgres) listen(ctx context.Context, fn func(), redial bool) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	p.logger.Info("listening for notifications", "redial", redial)
	if redial {
		fn()
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		if n.Channel == p.channel {
			fn()
		}
	}
}

// Close is a no-op; the listening connection closes when Subscribe returns
// and the pool is drained separately.
func (p *Postgres) Close() error {
	return nil
}
