package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/haptic-relay/internal/auth"
	"github.com/rickgao/haptic-relay/internal/connection"
	"github.com/rickgao/haptic-relay/internal/delivery"
	"github.com/rickgao/haptic-relay/internal/notify"
	"github.com/rickgao/haptic-relay/internal/room"
)

const testToken = "test-token"

type testRelay struct {
	server    *httptest.Server
	registry  *connection.Registry
	directory *room.Directory
	messages  *delivery.MemoryStore
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	return newTestRelayWithRooms(t, nil)
}

// newTestRelayWithRooms lets wrap replace the directory the server joins
// rooms through.
func newTestRelayWithRooms(t *testing.T, wrap func(*room.Directory, *connection.Registry) Rooms) *testRelay {
	t.Helper()

	directory, err := room.NewDirectory(room.DefaultConfig(), room.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewDirectory failed: %v", err)
	}
	registry := connection.NewRegistry(connection.WithUnregisterHook(directory.RemoveMember))

	messages := delivery.NewMemoryStore()
	notifier := notify.NewLocal()
	queue := delivery.NewQueue(messages, notifier, registry, nil)
	coalescer := delivery.NewCoalescer(queue.Flush, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	coalescer.Start(ctx)
	go notifier.Subscribe(ctx, coalescer.Trigger)
	waitFor(t, func() bool { return notifier.Subscribers() == 1 })

	var rooms Rooms = directory
	if wrap != nil {
		rooms = wrap(directory, registry)
	}

	srv := NewServer(Config{
		MaxFrameBytes: 512,
		Transport:     connection.DefaultTransportConfig(),
	}, auth.NewChecker(testToken), registry, rooms, queue, nil)

	server := httptest.NewServer(srv)
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		coalescer.Stop(stopCtx)
	})

	return &testRelay{server: server, registry: registry, directory: directory, messages: messages}
}

func (r *testRelay) url(query string) string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/?" + query
}

func (r *testRelay) dial(t *testing.T, deviceID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url("authToken="+testToken+"&deviceId="+deviceID), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, func() bool {
		_, ok := r.registry.FindByID(deviceID)
		return ok
	})
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("read error = %v, want timeout", err)
	}
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, key string) {
	t.Helper()
	send(t, conn, `{"type":"connectToRoom","data":{"roomKey":"`+key+`"}}`)
	if got := readFrame(t, conn); got["type"] != ConfirmRoomConnection {
		t.Fatalf("join reply = %v, want %s", got, ConfirmRoomConnection)
	}
}

func TestServer_HandshakeRequiresToken(t *testing.T) {
	relay := newTestRelay(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing", "deviceId=a"},
		{"wrong", "authToken=nope&deviceId=a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(relay.url(tt.query), nil)
			if err == nil {
				t.Fatal("dial succeeded without a valid token")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("response = %v, want 401", resp)
			}
		})
	}

	if relay.registry.Count() != 0 {
		t.Errorf("registry Count = %d, want 0", relay.registry.Count())
	}
}

func TestServer_HandshakeTokenInHeader(t *testing.T) {
	relay := newTestRelay(t)

	header := http.Header{}
	header.Set(auth.TokenParam, testToken)
	conn, _, err := websocket.DefaultDialer.Dial(relay.url("deviceId=hdr"), header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return relay.registry.Count() == 1 })
}

func TestServer_GeneratesIDWithoutDeviceID(t *testing.T) {
	relay := newTestRelay(t)

	conn, _, err := websocket.DefaultDialer.Dial(relay.url("authToken="+testToken), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return relay.registry.Count() == 1 })
	if ids := relay.registry.IDs(); len(ids[0]) != 36 {
		t.Errorf("generated id = %q, want a UUID", ids[0])
	}
}

func TestServer_RelayScenario(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()

	roomA, _ := relay.directory.CreateOrReuse(ctx, "creator-a")
	roomB, _ := relay.directory.CreateOrReuse(ctx, "creator-b")

	u1 := relay.dial(t, "u1")
	u2 := relay.dial(t, "u2")
	u3 := relay.dial(t, "u3")

	joinRoom(t, u1, roomA.Key)
	joinRoom(t, u2, strings.ToUpper(roomA.Key))
	joinRoom(t, u3, roomB.Key)

	send(t, u2, `{"type":"sendPayload","data":{"payload":[200,100,200],"speed":1.5}}`)

	if got := readFrame(t, u2); got["type"] != ConfirmPayloadSent {
		t.Errorf("sender reply = %v, want %s", got, ConfirmPayloadSent)
	}

	got := readFrame(t, u1)
	if got["type"] != "receivedPayload" {
		t.Fatalf("recipient frame = %v, want receivedPayload", got)
	}
	data, _ := json.Marshal(got["data"])
	if string(data) != `{"payload":[200,100,200],"speed":1.5}` {
		t.Errorf("relayed data = %s", data)
	}

	expectSilence(t, u2)
	expectSilence(t, u3)
	waitFor(t, func() bool { return relay.messages.Len() == 0 })
}

func TestServer_ValidationErrorsKeepConnection(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()
	r, _ := relay.directory.CreateOrReuse(ctx, "creator")

	conn := relay.dial(t, "u1")

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"unknown room key", `{"type":"connectToRoom","data":{"roomKey":"zz99zz"}}`, MsgNoRoomForKey},
		{"missing room key", `{"type":"connectToRoom","data":{}}`, MsgNoRoomForKey},
		{"payload outside a room", `{"type":"sendPayload","data":{"payload":[1],"speed":1}}`, MsgNotInRoom},
		{"extra payload key", `{"type":"sendPayload","data":{"payload":[1],"speed":1,"x":1}}`, MsgInvalidProperties},
		{"missing payload key", `{"type":"sendPayload","data":{"speed":1}}`, MsgMissingProperties},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.frame)
			got := readFrame(t, conn)
			if got["error"] != tt.want {
				t.Errorf("error frame = %v, want %q", got, tt.want)
			}
		})
	}

	// Still usable after every rejection.
	joinRoom(t, conn, r.Key)
	send(t, conn, `{"type":"heartbeat"}`)
	expectSilence(t, conn)
	if relay.registry.Count() != 1 {
		t.Errorf("registry Count = %d, want 1", relay.registry.Count())
	}
}

func TestServer_FatalFramesEvict(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"invalid json", `{"type":`},
		{"not an object", `[1,2,3]`},
		{"missing type", `{"data":{}}`},
		{"non-string type", `{"type":42}`},
		{"unknown type", `{"type":"dance"}`},
		{"oversized", `{"type":"heartbeat","data":"` + strings.Repeat("x", 600) + `"}`},
		{"beyond read limit", `{"type":"heartbeat","data":"` + strings.Repeat("x", 4096) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := newTestRelay(t)
			ctx := context.Background()
			r, _ := relay.directory.CreateOrReuse(ctx, "creator")

			conn := relay.dial(t, "u1")
			joinRoom(t, conn, r.Key)

			send(t, conn, tt.frame)
			expectClosed(t, conn)

			waitFor(t, func() bool { return relay.registry.Count() == 0 })
			waitFor(t, func() bool {
				_, err := relay.directory.FindByMember(ctx, "u1")
				return errors.Is(err, room.ErrRoomNotFound)
			})
		})
	}
}

// evictingRooms evicts the joining connection just before its membership
// is written.
type evictingRooms struct {
	*room.Directory
	registry *connection.Registry
	joined   atomic.Bool
}

func (e *evictingRooms) AddMember(ctx context.Context, roomID int64, userID string) error {
	if u, ok := e.registry.FindByID(userID); ok {
		e.registry.Evict(ctx, u, connection.ReasonNoPong)
	}
	err := e.Directory.AddMember(ctx, roomID, userID)
	e.joined.Store(true)
	return err
}

func TestServer_EvictionDuringJoinLeavesNoMember(t *testing.T) {
	var rooms *evictingRooms
	relay := newTestRelayWithRooms(t, func(d *room.Directory, reg *connection.Registry) Rooms {
		rooms = &evictingRooms{Directory: d, registry: reg}
		return rooms
	})
	ctx := context.Background()
	r, _ := relay.directory.CreateOrReuse(ctx, "creator")

	conn := relay.dial(t, "u1")
	send(t, conn, `{"type":"connectToRoom","data":{"roomKey":"`+r.Key+`"}}`)
	expectClosed(t, conn)

	waitFor(t, rooms.joined.Load)
	waitFor(t, func() bool {
		_, err := relay.directory.FindByMember(ctx, "u1")
		return errors.Is(err, room.ErrRoomNotFound)
	})

	if n := relay.registry.Count(); n != 0 {
		t.Errorf("registered = %d, want 0", n)
	}
	got, err := relay.directory.FindByKey(ctx, r.Key)
	if err != nil {
		t.Fatalf("FindByKey failed: %v", err)
	}
	if len(got.MemberIDs) != 0 {
		t.Errorf("MemberIDs = %v, want none", got.MemberIDs)
	}
}

func TestServer_SameDeviceReplacesConnection(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()
	r, _ := relay.directory.CreateOrReuse(ctx, "creator")

	first := relay.dial(t, "device-1")
	joinRoom(t, first, r.Key)

	second := relay.dial(t, "device-1")
	expectClosed(t, first)

	waitFor(t, func() bool { return relay.registry.Count() == 1 })

	// Membership is keyed by device id and survives the replacement.
	got, err := relay.directory.FindByMember(ctx, "device-1")
	if err != nil || got.ID != r.ID {
		t.Errorf("FindByMember = %v, %v; want room %d", got.ID, err, r.ID)
	}

	send(t, second, `{"type":"sendPayload","data":{"payload":[1],"speed":1}}`)
	if reply := readFrame(t, second); reply["type"] != ConfirmPayloadSent {
		t.Errorf("reply = %v, want %s", reply, ConfirmPayloadSent)
	}
}

func TestServer_PeerCloseUnregisters(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()
	r, _ := relay.directory.CreateOrReuse(ctx, "creator")

	conn := relay.dial(t, "u1")
	joinRoom(t, conn, r.Key)

	conn.Close()

	waitFor(t, func() bool { return relay.registry.Count() == 0 })
	waitFor(t, func() bool {
		_, err := relay.directory.FindByMember(ctx, "u1")
		return err != nil
	})
}
