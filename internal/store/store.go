// Package store owns the in-memory ordered message list for the currently
// open chat room. It merges three update sources — paginated history
// fetches, locally staged sends, and server push events — into one
// consistent chronological view, deduplicated by message id.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engiflow/engiflow-chat/internal/domain"
)

// PendingSend is a locally staged send awaiting its canonical server copy.
// The entry resolves when either the HTTP response or the matching push
// event arrives; whichever is second is deduplicated by server id.
type PendingSend struct {
	TempID   string
	Content  string
	StagedAt time.Time
}

// Store holds one room's messages in creation-timestamp order.
type Store struct {
	roomID  string
	changed chan struct{}

	mu       sync.Mutex
	messages []domain.Message
	ids      map[string]struct{}
	pending  map[string]PendingSend
	page     int
	hasMore  bool
}

// New creates an empty store bound to one room.
func New(roomID string) *Store {
	return &Store{
		roomID:  roomID,
		changed: make(chan struct{}, 1),
		ids:     make(map[string]struct{}),
		pending: make(map[string]PendingSend),
	}
}

// Changed delivers a signal after any mutation. Coalesced: a slow reader
// sees at least one signal, not one per mutation.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

func (s *Store) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// RoomID returns the room this store is bound to.
func (s *Store) RoomID() string {
	return s.roomID
}

// Reset replaces the store with page 1 of history. The page arrives newest
// first and is reversed here to chronological order.
func (s *Store) Reset(newestFirst []domain.Message, page, totalPages int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]domain.Message, 0, len(newestFirst))
	s.ids = make(map[string]struct{}, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if _, dup := s.ids[m.ID]; dup {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	s.page = page
	s.hasMore = page < totalPages
	s.signal()
}

// PrependOlder inserts an older history page at the front of the list,
// preserving the page's own order as delivered.
func (s *Store) PrependOlder(older []domain.Message, page, totalPages int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]domain.Message, 0, len(older))
	for _, m := range older {
		if _, dup := s.ids[m.ID]; dup {
			continue
		}
		s.ids[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	s.messages = append(fresh, s.messages...)
	s.page = page
	s.hasMore = page < totalPages
	s.signal()
}

// HasMore reports whether older pages remain unfetched.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// NextPage returns the page number to request for older history.
func (s *Store) NextPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page + 1
}

// StagePending records an in-flight send and returns its temp id. The
// message itself is not inserted; it appears only once the canonical
// server copy arrives from either the push channel or the HTTP echo.
func (s *Store) StagePending(content string) string {
	tempID := uuid.New().String()
	s.mu.Lock()
	s.pending[tempID] = PendingSend{TempID: tempID, Content: content, StagedAt: time.Now()}
	s.mu.Unlock()
	return tempID
}

// ResolvePending clears a pending entry and inserts the server's canonical
// message. If the push echo already inserted it, the insert deduplicates.
func (s *Store) ResolvePending(tempID string, msg *domain.Message) {
	s.mu.Lock()
	delete(s.pending, tempID)
	s.mu.Unlock()
	if msg != nil {
		s.ApplyNew(*msg)
	}
}

// DropPending discards a pending entry after a failed send.
func (s *Store) DropPending(tempID string) {
	s.mu.Lock()
	delete(s.pending, tempID)
	s.mu.Unlock()
}

// PendingCount returns the number of unresolved sends.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ApplyNew inserts a message if its id is not already present, then
// re-sorts the full list by creation timestamp. A plain append is not
// enough: late arrivals and clock-skewed echoes can land out of order.
func (s *Store) ApplyNew(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[msg.ID]; dup {
		return
	}
	s.ids[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
	s.signal()
}

// ApplyUpdate replaces the stored message with the same id wholesale.
// Edits, soft-deletes and reaction changes all arrive as the full canonical
// message; fields are never merged. Updates for messages outside the loaded
// window are ignored.
func (s *Store) ApplyUpdate(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			s.signal()
			return
		}
	}
}

// Get returns a message by id.
func (s *Store) Get(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			return s.messages[i], true
		}
	}
	return domain.Message{}, false
}

// Len returns the stored message count, soft-deleted entries included.
// Deleted messages keep their position so pagination indices stay stable.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// All returns a copy of the full list, soft-deleted entries included.
func (s *Store) All() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Visible returns the messages to render, excluding soft-deleted entries.
func (s *Store) Visible() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.IsDeleted {
			continue
		}
		out = append(out, m)
	}
	return out
}

// DayGroup is a contiguous run of messages sharing a local calendar date.
type DayGroup struct {
	Date     time.Time // local midnight
	Messages []domain.Message
}

// DayGroups partitions the visible messages into day buckets, preserving
// chronological order. A new bucket opens whenever the local calendar date
// changes from the previous message.
func (s *Store) DayGroups() []DayGroup {
	visible := s.Visible()

	var groups []DayGroup
	for _, m := range visible {
		day := localMidnight(m.CreatedAt)
		if len(groups) == 0 || !groups[len(groups)-1].Date.Equal(day) {
			groups = append(groups, DayGroup{Date: day})
		}
		last := len(groups) - 1
		groups[last].Messages = append(groups[last].Messages, m)
	}
	return groups
}

func localMidnight(t time.Time) time.Time {
	lt := t.Local()
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, lt.Location())
}
