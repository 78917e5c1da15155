package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/haptic-relay/internal/auth"
	"github.com/rickgao/haptic-relay/internal/config"
	"github.com/rickgao/haptic-relay/internal/connection"
	"github.com/rickgao/haptic-relay/internal/database"
	"github.com/rickgao/haptic-relay/internal/delivery"
	"github.com/rickgao/haptic-relay/internal/httpapi"
	"github.com/rickgao/haptic-relay/internal/metrics"
	"github.com/rickgao/haptic-relay/internal/notify"
	"github.com/rickgao/haptic-relay/internal/protocol"
	"github.com/rickgao/haptic-relay/internal/room"
	"github.com/rickgao/haptic-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	flag.Parse()

	// A missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"build_time", version.BuildTime,
		"config", *configPath,
	)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRelay(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build relay", "error", err)
		os.Exit(1)
	}

	if err := r.run(ctx); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}

	logger.Info("relay stopped")
}

// relay holds every long-lived component, in construction order.
type relay struct {
	cfg    *config.RelayConfig
	logger *slog.Logger

	pool      *database.Pool
	registry  *connection.Registry
	directory *room.Directory
	notifier  notify.Notifier
	queue     *delivery.Queue
	coalescer *delivery.Coalescer
	liveness  *connection.Sweeper
	rooms     *room.Sweeper
	http      *http.Server
}

func newRelay(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) (*relay, error) {
	r := &relay{cfg: cfg, logger: logger}

	var (
		roomStore    room.Store
		messageStore delivery.Store
	)
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
			"max_conns", cfg.Database.MaxConns,
		)
		pool, err := database.NewPostgresPool(ctx, cfg.Database, logger.With("component", "pool"))
		if err != nil {
			return nil, err
		}
		r.pool = pool
		roomStore = room.NewPostgresStore(pool)
		messageStore = delivery.NewPostgresStore(pool)
		logger.Info("database connected")
	case config.DriverMemory:
		logger.Warn("using in-memory storage; rooms and queued messages are lost on restart")
		roomStore = room.NewMemoryStore()
		messageStore = delivery.NewMemoryStore()
	}

	r.registry = connection.NewRegistry(connection.WithLogger(logger.With("component", "registry")))

	directory, err := room.NewDirectory(room.Config{
		KeyLength:    cfg.Rooms.KeyLength,
		KeyAttempts:  cfg.Rooms.KeyAttempts,
		AbandonAfter: cfg.Rooms.AbandonAfter,
	}, roomStore, logger.With("component", "rooms"))
	if err != nil {
		r.closePool()
		return nil, err
	}
	r.directory = directory
	r.registry.SetUnregisterHook(directory.RemoveMember)

	notifier, err := notify.New(ctx, cfg.Notifier, cfg.Database, r.pool, logger.With("component", "notifier"))
	if err != nil {
		r.closePool()
		return nil, err
	}
	r.notifier = notifier

	r.queue = delivery.NewQueue(messageStore, notifier, r.registry, logger.With("component", "delivery"))
	r.coalescer = delivery.NewCoalescer(r.queue.Flush, cfg.Delivery.FlushDelay, logger.With("component", "coalescer"))

	r.liveness = connection.NewSweeper(connection.SweepConfig{
		Interval:    cfg.Liveness.Interval,
		IdleTimeout: cfg.Liveness.IdleTimeout,
	}, r.registry, logger.With("component", "liveness"))
	r.rooms = room.NewSweeper(cfg.Rooms.SweepInterval, directory, logger.With("component", "room_sweeper"))

	checker := auth.NewChecker(cfg.Server.AuthToken)
	ws := protocol.NewServer(protocol.Config{
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		Transport:     connection.TransportConfig{WriteTimeout: cfg.Server.WriteTimeout},
	}, checker, r.registry, directory, r.queue, logger.With("component", "protocol"))

	opts := []httpapi.Option{httpapi.WithLogger(logger.With("component", "http"))}
	if r.pool != nil {
		opts = append(opts, httpapi.WithPool(r.pool))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, httpapi.WithMetrics(cfg.Metrics.Path))
		if err := r.registerGauges(); err != nil {
			r.closePool()
			return nil, err
		}
	}

	r.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewHandler(checker, ws, r.registry, directory, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return r, nil
}

// run starts every component and blocks until ctx is done or a component
// fails, then shuts down.
func (r *relay) run(ctx context.Context) error {
	// Background components outlive ctx so shutdown can stop them in order.
	bg := context.WithoutCancel(ctx)

	r.liveness.Start(bg)
	r.rooms.Start(bg)
	r.coalescer.Start(bg)

	subCtx, cancelSub := context.WithCancel(bg)
	defer cancelSub()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.notifier.Subscribe(subCtx, r.coalescer.Trigger)
	})

	g.Go(func() error {
		r.logger.Info("relay listening", "addr", r.cfg.Server.Addr)
		if err := r.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		r.shutdown(cancelSub)
		return nil
	})

	return g.Wait()
}

// shutdown stops accepting connections, stops both sweeps, drains the flush
// loop, closes the notifier, drains the pool and finally closes the
// connections that are still registered.
func (r *relay) shutdown(cancelSub context.CancelFunc) {
	r.logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	if err := r.http.Shutdown(ctx); err != nil {
		r.logger.Warn("http server shutdown", "error", err)
	}

	if err := r.liveness.Stop(ctx); err != nil {
		r.logger.Warn("liveness sweeper stop", "error", err)
	}
	if err := r.rooms.Stop(ctx); err != nil {
		r.logger.Warn("room sweeper stop", "error", err)
	}

	if err := r.coalescer.Stop(ctx); err != nil {
		r.logger.Warn("coalescer stop", "error", err)
	}

	cancelSub()
	if err := r.notifier.Close(); err != nil {
		r.logger.Warn("notifier close", "error", err)
	}

	if r.pool != nil {
		if err := r.pool.Drain(ctx); err != nil {
			r.logger.Warn("pool drain", "error", err)
		}
	}

	r.logger.Info("closing remaining connections", "count", r.registry.Count())
	r.registry.CloseAll()
}

func (r *relay) registerGauges() error {
	if err := metrics.RegisterGauge("connections", "registered", "Currently registered connections.", func() float64 {
		return float64(r.registry.Count())
	}); err != nil {
		return err
	}
	if err := metrics.RegisterGauge("delivery", "pending_triggers", "Flush triggers waiting for the coalescer.", func() float64 {
		return float64(r.coalescer.Pending())
	}); err != nil {
		return err
	}

	if r.pool == nil {
		return nil
	}
	if err := metrics.RegisterGauge("pool", "active_conns", "Database links currently acquired.", func() float64 {
		return float64(r.pool.Stats().Active)
	}); err != nil {
		return err
	}
	return metrics.RegisterGauge("pool", "idle_conns", "Database links idle in the pool.", func() float64 {
		return float64(r.pool.Stats().Idle)
	})
}

func (r *relay) closePool() {
	if r.pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.pool.Drain(ctx)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
