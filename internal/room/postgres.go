package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/haptic-relay/internal/database"
)

const uniqueViolation = "23505"

const selectRoom = `SELECT id, key, users_in_room, creator_id, last_active_date FROM rooms`

// PostgresStore persists rooms in the rooms table.
type PostgresStore struct {
	pool *database.Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool *database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, key, creatorID string, now time.Time) (Room, error) {
	var room Room
	err := s.pool.With(ctx, func(ctx context.Context, link database.Link) error {
		row := link.QueryRow(ctx, `
			INSERT INTO rooms (key, creator_id, last_active_date)
			VALUES ($1, $2, $3)
			RETURNING id, key, users_in_room, creator_id, last_active_date
		`, key, creatorID, now)

		var err error
		room, err = scanRoom(row)
		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return Room{}, ErrKeyTaken
	}
	return room, err
}

func (s *PostgresStore) ByID(ctx context.Context, id int64) (Room, error) {
	return s.queryOne(ctx, selectRoom+` WHERE id = $1`, id)
}

func (s *PostgresStore) ByKey(ctx context.Context, key string) (Room, error) {
	return s.queryOne(ctx, selectRoom+` WHERE key = $1`, key)
}

func (s *PostgresStore) ByCreator(ctx context.Context, creatorID string) (Room, error) {
	return s.queryOne(ctx, selectRoom+` WHERE creator_id = $1 ORDER BY id LIMIT 1`, creatorID)
}

func (s *PostgresStore) ByMember(ctx context.Context, userID string) (Room, error) {
	return s.queryOne(ctx, selectRoom+` WHERE $1 = ANY(users_in_room) ORDER BY id LIMIT 1`, userID)
}

func (s *PostgresStore) MoveMember(ctx context.Context, roomID int64, userID string, now time.Time) error {
	return s.pool.With(ctx, func(ctx context.Context, link database.Link) error {
		tx, err := link.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
			UPDATE rooms
			SET users_in_room = array_remove(users_in_room, $1)
			WHERE $1 = ANY(users_in_room)
		`, userID); err != nil {
			return fmt.Errorf("leave rooms: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE rooms
			SET users_in_room = users_in_room || ARRAY[$2::TEXT], last_active_date = $3
			WHERE id = $1
		`, roomID, userID, now)
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRoomNotFound
		}

		return tx.Commit(ctx)
	})
}

func (s *PostgresStore) RemoveMember(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET users_in_room = array_remove(users_in_room, $1)
		WHERE $1 = ANY(users_in_room)
	`, userID)
	return err
}

func (s *PostgresStore) TouchOccupied(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rooms SET last_active_date = $1
		WHERE cardinality(users_in_room) > 0
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM rooms
		WHERE cardinality(users_in_room) = 0 AND last_active_date < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.With(ctx, func(ctx context.Context, link database.Link) error {
		return link.QueryRow(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&n)
	})
	return n, err
}

func (s *PostgresStore) queryOne(ctx context.Context, sql string, args ...any) (Room, error) {
	var room Room
	err := s.pool.With(ctx, func(ctx context.Context, link database.Link) error {
		var err error
		room, err = scanRoom(link.QueryRow(ctx, sql, args...))
		return err
	})
	return room, err
}

func scanRoom(row pgx.Row) (Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.Key, &r.MemberIDs, &r.CreatorID, &r.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}
	if r.MemberIDs == nil {
		r.MemberIDs = []string{}
	}
	return r, nil
}
