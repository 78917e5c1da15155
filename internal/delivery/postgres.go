package delivery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/haptic-relay/internal/database"
)

// PostgresStore persists queued messages in the messages table.
type PostgresStore struct {
	pool *database.Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool *database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert writes every row with a single pgx.Batch round trip.
func (s *PostgresStore) Insert(ctx context.Context, msgs []QueuedMessage) error {
	return s.pool.With(ctx, func(ctx context.Context, link database.Link) error {
		batch := &pgx.Batch{}
		for _, m := range msgs {
			batch.Queue(`
				INSERT INTO messages (room_id, recipient_user_id, author_id, message_data)
				VALUES ($1, $2, $3, $4)
			`, m.RoomID, m.RecipientID, m.AuthorID, []byte(m.Data))
		}

		results := link.SendBatch(ctx, batch)
		defer results.Close()

		for range msgs {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ForRecipients(ctx context.Context, ids []string) ([]QueuedMessage, error) {
	var out []QueuedMessage
	err := s.pool.With(ctx, func(ctx context.Context, link database.Link) error {
		rows, err := link.Query(ctx, `
			SELECT id, room_id, recipient_user_id, author_id, message_data, created_at
			FROM messages
			WHERE recipient_user_id = ANY($1::TEXT[])
			ORDER BY id
		`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m QueuedMessage
			var data []byte
			if err := rows.Scan(&m.ID, &m.RoomID, &m.RecipientID, &m.AuthorID, &data, &m.CreatedAt); err != nil {
				return fmt.Errorf("scan message: %w", err)
			}
			m.Data = data
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) Delete(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = ANY($1::INT8[])`, ids)
	return err
}
