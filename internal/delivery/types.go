package delivery

import (
	"context"
	"encoding/json"
	"time"
)

// ReceivedPayload is the outbound frame type for relayed payloads.
const ReceivedPayload = "receivedPayload"

// QueuedMessage is one payload waiting for one recipient.
type QueuedMessage struct {
	ID          int64
	RoomID      int64
	RecipientID string
	AuthorID    string
	Data        json.RawMessage
	CreatedAt   time.Time
}

// Store persists queued messages.
type Store interface {
	// Insert writes all messages in one batch.
	Insert(ctx context.Context, msgs []QueuedMessage) error

	// ForRecipients returns messages addressed to any of ids, ordered by id.
	ForRecipients(ctx context.Context, ids []string) ([]QueuedMessage, error)

	// Delete removes messages by id.
	Delete(ctx context.Context, ids []int64) error
}

// Recipients is the set of reachable users.
type Recipients interface {
	IDs() []string
	SendMessageToUser(id string, msg any) error
}
