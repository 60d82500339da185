package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engiflow/engiflow-chat/internal/config"
	"github.com/engiflow/engiflow-chat/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFixture is a push-server stand-in: it records handshakes, exposes the
// live connection and every frame the client sends.
type wsFixture struct {
	srv    *httptest.Server
	mu     sync.Mutex
	auths  []string
	conns  chan *websocket.Conn
	frames chan map[string]interface{}
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan map[string]interface{}, 64),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auths = append(f.auths, r.Header.Get("Authorization"))
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame map[string]interface{}
				if json.Unmarshal(data, &frame) == nil {
					f.frames <- frame
				}
			}
		}()
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *wsFixture) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *wsFixture) handshakes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.auths))
	copy(out, f.auths)
	return out
}

func (f *wsFixture) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func (f *wsFixture) waitFrame(t *testing.T, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-f.frames:
			if frame["type"] == wantType {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %q frame received", wantType)
			return nil
		}
	}
}

func testConfig(url string) config.PushConfig {
	return config.PushConfig{
		URL:              url,
		PingInterval:     50 * time.Millisecond,
		PongWait:         time.Second,
		WriteWait:        time.Second,
		MaxMessageSize:   65536,
		ReconnectBase:    10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
		ReconnectRetries: 10,
	}
}

func TestStartWithoutTokenSuppressed(t *testing.T) {
	c := NewConn(testConfig("ws://unused.invalid"), "")
	assert.ErrorIs(t, c.Start(), ErrNoToken)
}

func TestDialSendsBearerHandshake(t *testing.T) {
	f := newWSFixture(t)
	c := NewConn(testConfig(f.url()), "tok-123")
	require.NoError(t, c.Start())
	defer c.Close()

	f.waitConn(t)
	require.NotEmpty(t, f.handshakes())
	assert.Equal(t, "Bearer tok-123", f.handshakes()[0])
}

func TestJoinRoomEmitsAndEventsFlow(t *testing.T) {
	f := newWSFixture(t)
	c := NewConn(testConfig(f.url()), "tok")
	require.NoError(t, c.Start())
	defer c.Close()

	server := f.waitConn(t)
	c.JoinRoom("r1")

	frame := f.waitFrame(t, domain.EventJoinRoom)
	assert.Equal(t, "r1", frame["roomId"])

	err := server.WriteJSON(map[string]interface{}{
		"type":   domain.EventNewMessage,
		"roomId": "r1",
		"message": map[string]interface{}{
			"_id": "m1", "chatRoom": "r1", "sender": "u1", "content": "hi",
		},
	})
	require.NoError(t, err)

	select {
	case ev := <-c.Events():
		msgEv, ok := ev.(*domain.MessageEvent)
		require.True(t, ok)
		assert.Equal(t, "m1", msgEv.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestTypingFrameShape(t *testing.T) {
	f := newWSFixture(t)
	c := NewConn(testConfig(f.url()), "tok")
	require.NoError(t, c.Start())
	defer c.Close()

	f.waitConn(t)
	c.SendTyping("r1", true)

	frame := f.waitFrame(t, domain.EventTyping)
	assert.Equal(t, "r1", frame["roomId"])
	assert.Equal(t, true, frame["isTyping"])
}

func TestReconnectRejoinsRooms(t *testing.T) {
	f := newWSFixture(t)
	c := NewConn(testConfig(f.url()), "tok")
	require.NoError(t, c.Start())
	defer c.Close()

	first := f.waitConn(t)
	c.JoinRoom("r1")
	f.waitFrame(t, domain.EventJoinRoom)

	// Kill the connection; the client must redial and re-join.
	first.Close()
	f.waitConn(t)
	frame := f.waitFrame(t, domain.EventJoinRoom)
	assert.Equal(t, "r1", frame["roomId"])
}

func TestLeaveRoomStopsRejoin(t *testing.T) {
	f := newWSFixture(t)
	c := NewConn(testConfig(f.url()), "tok")
	require.NoError(t, c.Start())
	defer c.Close()

	first := f.waitConn(t)
	c.JoinRoom("r1")
	f.waitFrame(t, domain.EventJoinRoom)
	c.LeaveRoom("r1")
	f.waitFrame(t, domain.EventLeaveRoom)

	first.Close()
	f.waitConn(t)

	select {
	case frame := <-f.frames:
		assert.NotEqual(t, domain.EventJoinRoom, frame["type"], "left room must not be re-joined")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseEndsEventStream(t *testing.T) {
	f := newWSFixture(t)
	c := NewConn(testConfig(f.url()), "tok")
	require.NoError(t, c.Start())

	f.waitConn(t)
	c.Close()

	select {
	case _, ok := <-c.Events():
		if ok {
			// Drain any event raced in before close.
			for range c.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel never closed")
	}
}
