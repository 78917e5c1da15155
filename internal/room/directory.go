package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/haptic-relay/internal/metrics"
)

// Directory owns room identity and membership.
type Directory struct {
	cfg    Config
	store  Store
	keys   *KeyGenerator
	logger *slog.Logger
	now    func() time.Time

	// Collapses concurrent creations for the same creator.
	creating singleflight.Group
}

// NewDirectory creates a directory over store.
func NewDirectory(cfg Config, store Store, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyAttempts < 1 {
		cfg.KeyAttempts = DefaultConfig().KeyAttempts
	}

	keys, err := NewKeyGenerator(cfg.KeyLength)
	if err != nil {
		return nil, err
	}

	return &Directory{
		cfg:    cfg,
		store:  store,
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}, nil
}

// createTimeout bounds a shared room creation once it no longer follows the
// caller that started it.
const createTimeout = 10 * time.Second

// CreateOrReuse returns the creator's existing room, or creates one.
// Concurrent calls for the same creator share one creation, which keeps
// running when the caller that started it goes away.
func (d *Directory) CreateOrReuse(ctx context.Context, creatorID string) (Room, error) {
	ch := d.creating.DoChan(creatorID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
		defer cancel()
		return d.createOrReuse(sctx, creatorID)
	})

	select {
	case <-ctx.Done():
		return Room{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Room{}, res.Err
		}
		return res.Val.(Room), nil
	}
}

func (d *Directory) createOrReuse(ctx context.Context, creatorID string) (Room, error) {
	existing, err := d.store.ByCreator(ctx, creatorID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return Room{}, fmt.Errorf("find room by creator: %w", err)
	}

	for attempt := 1; attempt <= d.cfg.KeyAttempts; attempt++ {
		room, err := d.store.Insert(ctx, d.keys.New(), creatorID, d.now())
		if errors.Is(err, ErrKeyTaken) {
			d.logger.Debug("room key collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return Room{}, fmt.Errorf("insert room: %w", err)
		}

		metrics.RoomsCreated.Inc()
		d.logger.Info("room created", "room_id", room.ID, "creator_id", creatorID)
		return room, nil
	}

	return Room{}, fmt.Errorf("%w after %d attempts", ErrKeySpaceExhausted, d.cfg.KeyAttempts)
}

// FindByID returns the room with the given id.
func (d *Directory) FindByID(ctx context.Context, id int64) (Room, error) {
	return d.store.ByID(ctx, id)
}

// FindByKey returns the room for key, ignoring case. Keys that could never
// have been generated are rejected without a store lookup.
func (d *Directory) FindByKey(ctx context.Context, key string) (Room, error) {
	normalized, ok := d.keys.Normalize(key)
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return d.store.ByKey(ctx, normalized)
}

// FindByCreator returns the room created by creatorID.
func (d *Directory) FindByCreator(ctx context.Context, creatorID string) (Room, error) {
	return d.store.ByCreator(ctx, creatorID)
}

// FindByMember returns the room userID belongs to.
func (d *Directory) FindByMember(ctx context.Context, userID string) (Room, error) {
	return d.store.ByMember(ctx, userID)
}

// AddMember moves userID into roomID, leaving any previous room.
func (d *Directory) AddMember(ctx context.Context, roomID int64, userID string) error {
	if err := d.store.MoveMember(ctx, roomID, userID, d.now()); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	d.logger.Debug("user joined room", "room_id", roomID, "user_id", userID)
	return nil
}

// RemoveMember removes userID from its room, if any.
func (d *Directory) RemoveMember(ctx context.Context, userID string) error {
	if err := d.store.RemoveMember(ctx, userID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// TouchActiveRooms refreshes LastActiveAt for every occupied room.
func (d *Directory) TouchActiveRooms(ctx context.Context) (int64, error) {
	n, err := d.store.TouchOccupied(ctx, d.now())
	if err != nil {
		return 0, fmt.Errorf("touch active rooms: %w", err)
	}
	return n, nil
}

// RemoveAbandoned deletes empty rooms inactive for longer than AbandonAfter.
func (d *Directory) RemoveAbandoned(ctx context.Context) (int64, error) {
	n, err := d.store.DeleteAbandoned(ctx, d.now().Add(-d.cfg.AbandonAfter))
	if err != nil {
		return 0, fmt.Errorf("remove abandoned rooms: %w", err)
	}
	if n > 0 {
		metrics.RoomsAbandoned.Add(float64(n))
	}
	return n, nil
}

// Count returns the number of open rooms.
func (d *Directory) Count(ctx context.Context) (int, error) {
	return d.store.Count(ctx)
}
