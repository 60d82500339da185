// Package typing implements the typing-indicator side channel: an outbound
// throttler that turns composer keystrokes into at most one start signal
// per burst, and an inbound tracker that holds the volatile set of remote
// typing users with a TTL.
package typing

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/engiflow/engiflow-chat/internal/domain"
)

// Emitter sends typing signals upstream. Satisfied by push.Conn.
type Emitter interface {
	SendTyping(roomID string, started bool)
}

// Throttler converts keystrokes into typing signals: one start per burst,
// a stop after the idle window elapses with no further keystrokes, and a
// forced stop on send or on leaving the room.
type Throttler struct {
	emitter Emitter
	roomID  string
	idle    time.Duration

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
}

// NewThrottler creates a throttler for one room.
func NewThrottler(emitter Emitter, roomID string, idle time.Duration) *Throttler {
	return &Throttler{emitter: emitter, roomID: roomID, idle: idle}
}

// Keystroke registers composer input. Blank text never starts a burst.
func (t *Throttler) Keystroke(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.typing {
		t.typing = true
		t.emitter.SendTyping(t.roomID, true)
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, t.stopIdle)
}

func (t *Throttler) stopIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.typing {
		t.typing = false
		t.emitter.SendTyping(t.roomID, false)
	}
}

// Stop forces an immediate typing-stop signal. Called on send and on
// leaving the room.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.typing {
		t.typing = false
		t.emitter.SendTyping(t.roomID, false)
	}
}

// User is one remote user currently typing.
type User struct {
	UserID   string
	Username string
}

type entry struct {
	username string
	seen     time.Time
}

// Tracker holds per-room sets of remote typing users. Entries expire after
// the TTL even if the server's stop event is lost.
type Tracker struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]map[string]entry
}

// NewTracker creates a tracker with the given entry TTL.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		ttl:   ttl,
		now:   time.Now,
		rooms: make(map[string]map[string]entry),
	}
}

// Apply records a server-pushed typing event.
func (tr *Tracker) Apply(ev *domain.TypingEvent) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	users, ok := tr.rooms[ev.RoomID]
	if !ok {
		if !ev.Started {
			return
		}
		users = make(map[string]entry)
		tr.rooms[ev.RoomID] = users
	}

	if ev.Started {
		users[ev.UserID] = entry{username: ev.Username, seen: tr.now()}
	} else {
		delete(users, ev.UserID)
		if len(users) == 0 {
			delete(tr.rooms, ev.RoomID)
		}
	}
}

// Typing returns the users currently typing in a room, sweeping entries
// older than the TTL.
func (tr *Tracker) Typing(roomID string) []User {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	users, ok := tr.rooms[roomID]
	if !ok {
		return nil
	}

	cutoff := tr.now().Add(-tr.ttl)
	var out []User
	for id, e := range users {
		if e.seen.Before(cutoff) {
			delete(users, id)
			continue
		}
		out = append(out, User{UserID: id, Username: e.username})
	}
	if len(users) == 0 {
		delete(tr.rooms, roomID)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ClearRoom drops a room's typing state, typically on leave.
func (tr *Tracker) ClearRoom(roomID string) {
	tr.mu.Lock()
	delete(tr.rooms, roomID)
	tr.mu.Unlock()
}
