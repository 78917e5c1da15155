package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"

	"github.com/rickgao/haptic-relay/internal/config"
)

// Errors
var (
	ErrPoolExhausted = errors.New("pool exhausted: no connection became available")
	ErrPoolClosed    = errors.New("pool closed")
)

// Link is the subset of *pgx.Conn the relay uses. Pool values wrap a Link.
type Link interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Dialer opens a new underlying link.
type Dialer func(ctx context.Context) (Link, error)

// ManagedConn is a pooled link. Its idle/active state is tracked by the pool.
type ManagedConn struct {
	ID   uint64
	Link Link
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	MaxConns       int           // Ceiling on simultaneously active links
	Lifespan       time.Duration // Links older than this are replaced on reuse (0 = forever)
	AcquireTimeout time.Duration // Max wait for a free slot
}

// PoolStats is a snapshot of pool state.
type PoolStats struct {
	Active   int32 `json:"active"`
	Idle     int32 `json:"idle"`
	Total    int32 `json:"total"`
	Max      int32 `json:"max"`
	Acquires int64 `json:"acquires"`
	Recycled int64 `json:"recycled"`
	Timeouts int64 `json:"timeouts"`
}

// Pool is a bounded set of managed links.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger
	res    *puddle.Pool[*ManagedConn]

	nextID   atomic.Uint64
	recycled atomic.Int64
	timeouts atomic.Int64
}

// NewPool creates a pool that opens links with dial on demand.
func NewPool(cfg PoolConfig, dial Dialer, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConns < 1 {
		return nil, fmt.Errorf("max conns must be >= 1, got %d", cfg.MaxConns)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = config.DefaultAcquireTimeout
	}

	p := &Pool{cfg: cfg, logger: logger}

	res, err := puddle.NewPool(&puddle.Config[*ManagedConn]{
		Constructor: func(ctx context.Context) (*ManagedConn, error) {
			link, err := dial(ctx)
			if err != nil {
				return nil, fmt.Errorf("open link: %w", err)
			}
			mc := &ManagedConn{ID: p.nextID.Add(1), Link: link}
			p.logger.Debug("opened managed connection", "conn_id", mc.ID)
			return mc, nil
		},
		Destructor: func(mc *ManagedConn) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mc.Link.Close(ctx); err != nil {
				p.logger.Warn("failed to close managed connection", "conn_id", mc.ID, "error", err)
				return
			}
			p.logger.Debug("closed managed connection", "conn_id", mc.ID)
		},
		MaxSize: int32(cfg.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	p.res = res

	return p, nil
}

// NewPostgresPool creates a pool of pgx connections and verifies connectivity.
func NewPostgresPool(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Pool, error) {
	pool, err := NewPool(PoolConfig{
		MaxConns:       cfg.MaxConns,
		Lifespan:       cfg.ConnLifespan,
		AcquireTimeout: cfg.AcquireTimeout,
	}, func(ctx context.Context) (Link, error) {
		return Dial(ctx, cfg)
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, "SELECT 1"); err != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Drain(drainCtx)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Dial opens a single unpooled connection.
func Dial(ctx context.Context, cfg config.DBConfig) (*pgx.Conn, error) {
	connCfg, err := pgx.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

// With acquires a link, runs fn, and releases the link when fn returns.
// Callers never hold a link beyond fn.
func (p *Pool) With(ctx context.Context, fn func(ctx context.Context, link Link) error) error {
	res, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	released := false
	defer func() {
		if !released {
			res.Destroy()
		}
	}()

	err = fn(ctx, res.Value().Link)

	if isClosed(res.Value().Link) {
		res.Destroy()
	} else {
		res.Release()
	}
	released = true

	return err
}

// Exec runs a single statement on a managed link.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := p.With(ctx, func(ctx context.Context, link Link) error {
		var err error
		tag, err = link.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() PoolStats {
	s := p.res.Stat()
	return PoolStats{
		Active:   s.AcquiredResources(),
		Idle:     s.IdleResources(),
		Total:    s.TotalResources(),
		Max:      s.MaxResources(),
		Acquires: s.AcquireCount(),
		Recycled: p.recycled.Load(),
		Timeouts: p.timeouts.Load(),
	}
}

// Drain closes every tracked link. Active links are closed once released;
// Drain gives up waiting when ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.res.Close()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("connection pool drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("connection pool drain timed out", "active", p.res.Stat().AcquiredResources())
		return fmt.Errorf("drain pool: %w", ctx.Err())
	}
}

// acquire waits up to AcquireTimeout for a link, replacing links that
// outlived their lifespan.
func (p *Pool) acquire(ctx context.Context) (*puddle.Resource[*ManagedConn], error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		res, err := p.res.Acquire(waitCtx)
		if err != nil {
			switch {
			case errors.Is(err, puddle.ErrClosedPool):
				return nil, ErrPoolClosed
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				p.timeouts.Add(1)
				return nil, fmt.Errorf("%w (waited %s)", ErrPoolExhausted, p.cfg.AcquireTimeout)
			default:
				return nil, fmt.Errorf("acquire connection: %w", err)
			}
		}

		if p.cfg.Lifespan > 0 && time.Since(res.CreationTime()) > p.cfg.Lifespan {
			p.logger.Debug("recycling expired managed connection",
				"conn_id", res.Value().ID,
				"age", time.Since(res.CreationTime()),
			)
			res.Destroy()
			p.recycled.Add(1)
			continue
		}

		return res, nil
	}
}

// isClosed reports whether the link has been closed underneath the pool.
func isClosed(link Link) bool {
	c, ok := link.(interface{ IsClosed() bool })
	return ok && c.IsClosed()
}
