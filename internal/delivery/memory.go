package delivery

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps queued messages in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	msgs   []QueuedMessage
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Insert(ctx context.Context, msgs []QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		s.nextID++
		m.ID = s.nextID
		m.CreatedAt = s.now()
		m.Data = slices.Clone(m.Data)
		s.msgs = append(s.msgs, m)
	}
	return nil
}

func (s *MemoryStore) ForRecipients(ctx context.Context, ids []string) ([]QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []QueuedMessage
	for _, m := range s.msgs {
		if slices.Contains(ids, m.RecipientID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = slices.DeleteFunc(s.msgs, func(m QueuedMessage) bool {
		return slices.Contains(ids, m.ID)
	})
	return nil
}

// Len returns the number of queued messages.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}
