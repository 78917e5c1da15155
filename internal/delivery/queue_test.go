package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rickgao/haptic-relay/internal/connection"
	"github.com/rickgao/haptic-relay/internal/notify"
)

// fakeRecipients is a set of connected users that records sent frames.
type fakeRecipients struct {
	mu     sync.Mutex
	online map[string]bool
	sent   map[string][]connection.Message
}

func newFakeRecipients(ids ...string) *fakeRecipients {
	f := &fakeRecipients{online: make(map[string]bool), sent: make(map[string][]connection.Message)}
	for _, id := range ids {
		f.online[id] = true
	}
	return f
}

func (f *fakeRecipients) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.online))
	for id := range f.online {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeRecipients) SendMessageToUser(id string, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[id] {
		return connection.ErrNotConnected
	}
	f.sent[id] = append(f.sent[id], msg.(connection.Message))
	return nil
}

func (f *fakeRecipients) setOnline(id string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[id] = online
}

func (f *fakeRecipients) received(id string) []connection.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connection.Message(nil), f.sent[id]...)
}

// countingNotifier counts Notify calls.
type countingNotifier struct {
	*notify.Local
	mu    sync.Mutex
	calls int
	err   error
}

func (n *countingNotifier) Notify(ctx context.Context) error {
	n.mu.Lock()
	n.calls++
	err := n.err
	n.mu.Unlock()
	if err != nil {
		return err
	}
	return n.Local.Notify(ctx)
}

func TestQueue_EnqueueWritesRowPerRecipientAndNotifies(t *testing.T) {
	store := NewMemoryStore()
	n := &countingNotifier{Local: notify.NewLocal()}
	q := NewQueue(store, n, newFakeRecipients(), nil)

	data := json.RawMessage(`{"payload":[100,200],"speed":1}`)
	if err := q.Enqueue(context.Background(), 7, "author", []string{"u1", "u2"}, data); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if store.Len() != 2 {
		t.Errorf("queued rows = %d, want 2", store.Len())
	}
	if n.calls != 1 {
		t.Errorf("Notify calls = %d, want 1", n.calls)
	}

	// No recipients: nothing written, nothing published.
	if err := q.Enqueue(context.Background(), 7, "author", nil, data); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if store.Len() != 2 || n.calls != 1 {
		t.Errorf("empty enqueue changed state: rows=%d notifies=%d", store.Len(), n.calls)
	}
}

func TestQueue_EnqueueSurvivesNotifyFailure(t *testing.T) {
	store := NewMemoryStore()
	n := &countingNotifier{Local: notify.NewLocal(), err: errors.New("redis down")}
	q := NewQueue(store, n, newFakeRecipients(), nil)

	err := q.Enqueue(context.Background(), 1, "author", []string{"u1"}, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue error = %v, want nil", err)
	}
	if store.Len() != 1 {
		t.Errorf("queued rows = %d, want 1", store.Len())
	}
}

func TestQueue_FlushDeliversOnlyToConnected(t *testing.T) {
	store := NewMemoryStore()
	recipients := newFakeRecipients("u1")
	q := NewQueue(store, notify.NewLocal(), recipients, nil)
	ctx := context.Background()

	data := json.RawMessage(`{"payload":[1],"speed":2}`)
	q.Enqueue(ctx, 1, "author", []string{"u1", "offline"}, data)

	delivered, err := q.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}

	got := recipients.received("u1")
	if len(got) != 1 {
		t.Fatalf("u1 received %d frames, want 1", len(got))
	}
	if got[0].Type != ReceivedPayload {
		t.Errorf("frame type = %q, want %q", got[0].Type, ReceivedPayload)
	}
	if raw, _ := json.Marshal(got[0]); string(raw) != `{"type":"receivedPayload","data":{"payload":[1],"speed":2}}` {
		t.Errorf("frame = %s", raw)
	}

	if store.Len() != 1 {
		t.Fatalf("queued rows = %d, want 1 (offline row kept)", store.Len())
	}

	// Offline recipient reconnects; the next flush delivers the kept row.
	recipients.setOnline("offline", true)
	if delivered, _ := q.Flush(ctx); delivered != 1 {
		t.Errorf("second flush delivered = %d, want 1", delivered)
	}
	if len(recipients.received("offline")) != 1 {
		t.Error("reconnected recipient did not receive queued payload")
	}
	if store.Len() != 0 {
		t.Errorf("queued rows = %d, want 0", store.Len())
	}
}

func TestQueue_FlushPreservesOrder(t *testing.T) {
	store := NewMemoryStore()
	recipients := newFakeRecipients("u1")
	q := NewQueue(store, notify.NewLocal(), recipients, nil)
	ctx := context.Background()

	for _, body := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		q.Enqueue(ctx, 1, "author", []string{"u1"}, json.RawMessage(body))
	}
	q.Flush(ctx)

	got := recipients.received("u1")
	if len(got) != 3 {
		t.Fatalf("received %d frames, want 3", len(got))
	}
	for i, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if string(got[i].Data.(json.RawMessage)) != want {
			t.Errorf("frame %d data = %s, want %s", i, got[i].Data, want)
		}
	}
}

func TestQueue_FlushWithNobodyConnected(t *testing.T) {
	store := NewMemoryStore()
	q := NewQueue(store, notify.NewLocal(), newFakeRecipients(), nil)
	ctx := context.Background()

	q.Enqueue(ctx, 1, "author", []string{"u1"}, json.RawMessage(`{}`))
	if delivered, err := q.Flush(ctx); delivered != 0 || err != nil {
		t.Errorf("Flush = (%d, %v), want (0, nil)", delivered, err)
	}
	if store.Len() != 1 {
		t.Errorf("queued rows = %d, want 1", store.Len())
	}
}
