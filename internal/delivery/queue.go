package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/haptic-relay/internal/connection"
	"github.com/rickgao/haptic-relay/internal/metrics"
	"github.com/rickgao/haptic-relay/internal/notify"
)

// Queue persists payloads and flushes them to connected recipients.
type Queue struct {
	store      Store
	notifier   notify.Notifier
	recipients Recipients
	logger     *slog.Logger
}

// NewQueue creates a delivery queue.
func NewQueue(store Store, notifier notify.Notifier, recipients Recipients, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:      store,
		notifier:   notifier,
		recipients: recipients,
		logger:     logger,
	}
}

// Enqueue stores one row per recipient and publishes a notification. A failed
// notification is logged only; the rows are durable and go out on the next
// one.
func (q *Queue) Enqueue(ctx context.Context, roomID int64, authorID string, recipientIDs []string, data json.RawMessage) error {
	if len(recipientIDs) == 0 {
		return nil
	}

	msgs := make([]QueuedMessage, len(recipientIDs))
	for i, id := range recipientIDs {
		msgs[i] = QueuedMessage{
			RoomID:      roomID,
			RecipientID: id,
			AuthorID:    authorID,
			Data:        data,
		}
	}

	if err := q.store.Insert(ctx, msgs); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	metrics.MessagesEnqueued.Add(float64(len(msgs)))

	if err := q.notifier.Notify(ctx); err != nil {
		q.logger.Warn("failed to publish new message notification", "error", err)
	}
	return nil
}

// Flush delivers queued rows to connected recipients and deletes the rows
// that were sent. It returns the number of delivered rows.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}()

	ids := q.recipients.IDs()
	if len(ids) == 0 {
		metrics.Flushes.WithLabelValues("empty").Inc()
		return 0, nil
	}

	msgs, err := q.store.ForRecipients(ctx, ids)
	if err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("select messages: %w", err)
	}

	delivered := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		frame := connection.Message{Type: ReceivedPayload, Data: m.Data}
		if err := q.recipients.SendMessageToUser(m.RecipientID, frame); err != nil {
			// Recipient went away since IDs(); the row waits for a later flush.
			q.logger.Debug("delivery deferred", "message_id", m.ID, "recipient_id", m.RecipientID, "error", err)
			continue
		}
		delivered = append(delivered, m.ID)
	}

	if len(delivered) > 0 {
		if err := q.store.Delete(ctx, delivered); err != nil {
			metrics.Flushes.WithLabelValues("error").Inc()
			return len(delivered), fmt.Errorf("delete delivered messages: %w", err)
		}
		metrics.MessagesDelivered.Add(float64(len(delivered)))
	}

	metrics.Flushes.WithLabelValues("ok").Inc()
	q.logger.Debug("flush complete",
		"selected", len(msgs),
		"delivered", len(delivered),
		"duration", time.Since(start),
	)
	return len(delivered), nil
}
