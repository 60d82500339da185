// Package push maintains the single persistent websocket connection a
// session holds to the chat service, delivering server-initiated events
// and carrying join/leave/typing signals upstream.
package push

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/engiflow/engiflow-chat/internal/config"
	"github.com/engiflow/engiflow-chat/internal/domain"
	"github.com/engiflow/engiflow-chat/pkg/log"
)

// ErrNoToken is returned by Start when the session holds no bearer token.
// Without credentials no connection attempt is made at all.
var ErrNoToken = errors.New("push connection requires an auth token")

// errLogInterval rate-limits connection error logging.
const errLogInterval = 10 * time.Second

// Conn is the session's push connection manager. It dials with the bearer
// token, re-joins rooms after every reconnect, and retries failures with
// bounded exponential backoff up to a capped attempt count. After the cap
// it stays down until Reconnect is called.
type Conn struct {
	cfg   config.PushConfig
	token string

	events chan interface{}
	send   chan []byte
	retry  chan struct{}
	closed chan struct{}

	mu     sync.Mutex
	joined map[string]bool

	closeOnce sync.Once
	startOnce sync.Once

	lastErrLog time.Time
}

// NewConn creates a connection manager. Nothing is dialed until Start.
func NewConn(cfg config.PushConfig, token string) *Conn {
	return &Conn{
		cfg:    cfg,
		token:  token,
		events: make(chan interface{}, 256),
		send:   make(chan []byte, 256),
		retry:  make(chan struct{}, 1),
		closed: make(chan struct{}),
		joined: make(map[string]bool),
	}
}

// Start launches the connection loop. Safe to call once per manager.
func (c *Conn) Start() error {
	if c.token == "" {
		return ErrNoToken
	}
	c.startOnce.Do(func() {
		go c.run()
	})
	return nil
}

// Events returns the stream of decoded server events.
func (c *Conn) Events() <-chan interface{} {
	return c.events
}

// JoinRoom subscribes to a room's events. The subscription survives
// reconnects until LeaveRoom is called.
func (c *Conn) JoinRoom(roomID string) {
	c.mu.Lock()
	c.joined[roomID] = true
	c.mu.Unlock()
	c.emit(&domain.JoinRoomEvent{Type: domain.EventJoinRoom, RoomID: roomID})
}

// LeaveRoom unsubscribes from a room's events.
func (c *Conn) LeaveRoom(roomID string) {
	c.mu.Lock()
	delete(c.joined, roomID)
	c.mu.Unlock()
	c.emit(&domain.LeaveRoomEvent{Type: domain.EventLeaveRoom, RoomID: roomID})
}

// SendTyping emits a typing start or stop signal for a room.
func (c *Conn) SendTyping(roomID string, started bool) {
	c.emit(&domain.TypingEvent{Type: domain.EventTyping, RoomID: roomID, Started: started})
}

// Reconnect resets the attempt budget after the manager has given up.
func (c *Conn) Reconnect() {
	select {
	case c.retry <- struct{}{}:
	default:
	}
}

// Close tears the connection down permanently.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *Conn) emit(ev interface{}) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		// Outbound queue full. Typing and join signals are best effort.
	}
}

func (c *Conn) run() {
	attempt := 0
	delay := c.cfg.ReconnectBase
	if delay <= 0 {
		delay = time.Second
	}

	for {
		select {
		case <-c.closed:
			close(c.events)
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			attempt++
			c.logConnErr(err, attempt)

			if c.cfg.ReconnectRetries > 0 && attempt >= c.cfg.ReconnectRetries {
				l := log.L()
				l.Warn().Int(log.FieldAttempt, attempt).Msg("push connection gave up, waiting for manual reconnect")
				select {
				case <-c.retry:
					attempt = 0
					delay = c.cfg.ReconnectBase
					continue
				case <-c.closed:
					close(c.events)
					return
				}
			}

			select {
			case <-time.After(delay):
			case <-c.closed:
				close(c.events)
				return
			}
			delay *= 2
			if c.cfg.ReconnectMax > 0 && delay > c.cfg.ReconnectMax {
				delay = c.cfg.ReconnectMax
			}
			continue
		}

		attempt = 0
		delay = c.cfg.ReconnectBase
		c.rejoin()
		c.pump(conn)
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// rejoin re-emits join_room for every subscribed room so a fresh connection
// receives the same traffic as the one it replaced.
func (c *Conn) rejoin() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for id := range c.joined {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	for _, id := range rooms {
		c.emit(&domain.JoinRoomEvent{Type: domain.EventJoinRoom, RoomID: id})
	}
}

// pump runs the read and write loops for one live connection and returns
// when either fails.
func (c *Conn) pump(conn *websocket.Conn) {
	done := make(chan struct{})
	go c.writePump(conn, done)
	c.readPump(conn)
	close(done)
	conn.Close()
}

func (c *Conn) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logConnErr(err, 0)
			}
			return
		}

		ev, err := domain.DecodeEvent(data)
		if err != nil {
			l := log.L()
			l.Debug().Err(err).Msg("undecodable push frame")
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		default:
			l := log.L()
			l.Warn().Msg("push event queue full, dropping event")
		}
	}
}

func (c *Conn) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return

		case <-c.closed:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// logConnErr logs connection failures at most once per errLogInterval.
// Push errors are never surfaced to the user directly.
func (c *Conn) logConnErr(err error, attempt int) {
	now := time.Now()
	if now.Sub(c.lastErrLog) < errLogInterval {
		return
	}
	c.lastErrLog = now
	l := log.L()
	ev := l.Warn().Err(err)
	if attempt > 0 {
		ev = ev.Int(log.FieldAttempt, attempt)
	}
	ev.Msg("push connection error")
}
