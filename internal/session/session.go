// Package session ties the chat client together: one Session owns the
// push connection, the store for the currently open room, the typing and
// unread side channels, and the room switching lifecycle. It is an
// explicitly constructed object tied to login/logout, not a shared
// singleton.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/engiflow/engiflow-chat/internal/composer"
	"github.com/engiflow/engiflow-chat/internal/config"
	"github.com/engiflow/engiflow-chat/internal/domain"
	"github.com/engiflow/engiflow-chat/internal/push"
	"github.com/engiflow/engiflow-chat/internal/search"
	"github.com/engiflow/engiflow-chat/internal/store"
	"github.com/engiflow/engiflow-chat/internal/transport"
	"github.com/engiflow/engiflow-chat/internal/typing"
	"github.com/engiflow/engiflow-chat/pkg/log"
)

// ErrNotSender is returned when editing or deleting another user's
// message. UI gating only; the server remains the authority.
var ErrNotSender = errors.New("only the original sender may modify a message")

// ErrNoRoom is returned for message operations with no room open.
var ErrNoRoom = errors.New("no chat room is open")

// ErrUnknownMessage is returned when the target message is not in the
// loaded history window.
var ErrUnknownMessage = errors.New("message not found in loaded history")

// Identity is what the session knows about its user, extracted from the
// bearer token's claims without verification. The server verifies.
type Identity struct {
	UserID    string
	Username  string
	ExpiresAt *time.Time
}

// Expired reports whether the token's lifetime has passed.
func (id Identity) Expired() bool {
	return id.ExpiresAt != nil && id.ExpiresAt.Before(time.Now())
}

// Session is the top-level chat client for one authenticated user.
type Session struct {
	cfg      *config.Config
	api      *transport.Client
	conn     *push.Conn
	tracker  *typing.Tracker
	searcher *search.Searcher
	identity Identity

	notifications chan domain.NotificationEvent

	mu        sync.Mutex
	roomStore *store.Store
	throttler *typing.Throttler
	compose   *composer.Composer
	unread    map[string]int

	closeOnce sync.Once
}

// New constructs a session from configuration. Collaborators are built
// here but an alternate push connection or API client can be injected with
// the With options before Start.
func New(cfg *config.Config) *Session {
	s := &Session{
		cfg:           cfg,
		api:           transport.NewClient(cfg.API),
		conn:          push.NewConn(cfg.Push, cfg.API.Token),
		tracker:       typing.NewTracker(cfg.Chat.TypingTTL),
		identity:      parseIdentity(cfg.API.Token),
		notifications: make(chan domain.NotificationEvent, 16),
		unread:        make(map[string]int),
	}
	s.searcher = search.New(s.api, cfg.Search.Debounce, cfg.Search.PageSize)
	return s
}

// WithTransport replaces the REST client. Call before Start.
func (s *Session) WithTransport(api *transport.Client) *Session {
	s.api = api
	s.searcher = search.New(api, s.cfg.Search.Debounce, s.cfg.Search.PageSize)
	return s
}

// WithPush replaces the push connection manager. Call before Start.
func (s *Session) WithPush(conn *push.Conn) *Session {
	s.conn = conn
	return s
}

// Identity returns the user identity derived from the token.
func (s *Session) Identity() Identity {
	return s.identity
}

// Start brings up the push connection and the event loop. A missing or
// expired token suppresses the connection entirely; REST calls still work
// until the server rejects them.
func (s *Session) Start() error {
	if s.identity.Expired() {
		l := log.L()
		l.Warn().Msg("auth token expired, push connection suppressed")
		return push.ErrNoToken
	}
	if err := s.conn.Start(); err != nil {
		return err
	}
	go s.eventLoop()
	return nil
}

// Close tears the session down: leaves the open room and drops the push
// connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.throttler != nil {
			s.throttler.Stop()
		}
		if s.roomStore != nil {
			s.conn.LeaveRoom(s.roomStore.RoomID())
		}
		s.roomStore = nil
		s.throttler = nil
		s.mu.Unlock()
		s.conn.Close()
	})
}

// Notifications returns the stream of out-of-band notifications.
func (s *Session) Notifications() <-chan domain.NotificationEvent {
	return s.notifications
}

// Searcher returns the debounced room search.
func (s *Session) Searcher() *search.Searcher {
	return s.searcher
}

// ListProjectRooms returns the user's project rooms.
func (s *Session) ListProjectRooms(ctx context.Context) ([]domain.ProjectRoom, error) {
	return s.api.ListProjectRooms(ctx)
}

// ListChatRooms returns the chat rooms under a project room.
func (s *Session) ListChatRooms(ctx context.Context, projectRoomID string) ([]domain.ChatRoom, error) {
	return s.api.ListChatRooms(ctx, projectRoomID)
}

// OpenRoom makes roomID the visible room: the previous room is left, its
// typing state cleared, page 1 of history loaded, the push subscription
// switched over, and the room marked read best-effort.
func (s *Session) OpenRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.roomStore != nil {
		prev := s.roomStore.RoomID()
		if prev == roomID {
			s.mu.Unlock()
			return nil
		}
		if s.throttler != nil {
			s.throttler.Stop()
		}
		s.conn.LeaveRoom(prev)
		s.tracker.ClearRoom(prev)
	}
	st := store.New(roomID)
	s.roomStore = st
	s.throttler = typing.NewThrottler(s.conn, roomID, s.cfg.Chat.TypingIdle)
	s.compose = composer.New(s.cfg.Uploads.MaxFileSize)
	s.mu.Unlock()

	s.conn.JoinRoom(roomID)

	page, err := s.api.FetchMessages(ctx, roomID, 1, s.cfg.Chat.PageSize)
	if err != nil {
		return err
	}

	// The user may have switched rooms while the fetch was in flight;
	// stale results are dropped rather than applied to the wrong store.
	s.mu.Lock()
	current := s.roomStore
	s.mu.Unlock()
	if current == nil || current.RoomID() != roomID {
		return nil
	}
	current.Reset(page.Messages, page.Page, page.TotalPages)

	go func() {
		if err := s.api.MarkRoomRead(context.Background(), roomID); err != nil {
			l := log.L()
			l.Debug().Err(err).Str(log.FieldRoomID, roomID).Msg("mark room read failed")
		}
	}()
	s.mu.Lock()
	s.unread[roomID] = 0
	s.mu.Unlock()

	return nil
}

// Store returns the open room's message store, or nil.
func (s *Session) Store() *store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomStore
}

// Composer returns the open room's draft state, or nil.
func (s *Session) Composer() *composer.Composer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compose
}

// Keystroke feeds the typing throttler from composer input.
func (s *Session) Keystroke(text string) {
	s.mu.Lock()
	th := s.throttler
	c := s.compose
	s.mu.Unlock()
	if c != nil {
		c.SetText(text)
	}
	if th != nil {
		th.Keystroke(text)
	}
}

// TypingUsers returns who is typing in the open room.
func (s *Session) TypingUsers() []typing.User {
	s.mu.Lock()
	st := s.roomStore
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return s.tracker.Typing(st.RoomID())
}

// Unread returns the unread count for a room as reported by the server's
// unread side channel.
func (s *Session) Unread(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[roomID]
}

// LoadOlder fetches the next older history page and prepends it.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	st := s.roomStore
	s.mu.Unlock()
	if st == nil {
		return ErrNoRoom
	}
	if !st.HasMore() {
		return nil
	}

	roomID := st.RoomID()
	next := st.NextPage()
	page, err := s.api.FetchMessages(ctx, roomID, next, s.cfg.Chat.PageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	current := s.roomStore
	s.mu.Unlock()
	if current == nil || current.RoomID() != roomID {
		return nil
	}
	current.PrependOlder(page.Messages, page.Page, page.TotalPages)
	return nil
}

// Send submits the composer draft. The text clears optimistically, but the
// message only enters the store once its canonical server copy arrives —
// from the push echo or the HTTP response, whichever is first. Progress,
// when non-nil, receives multipart upload percentage.
func (s *Session) Send(ctx context.Context, progress transport.ProgressFunc) (*domain.Message, error) {
	s.mu.Lock()
	st := s.roomStore
	c := s.compose
	th := s.throttler
	s.mu.Unlock()
	if st == nil || c == nil {
		return nil, ErrNoRoom
	}

	text, files, err := c.BeginSend()
	if err != nil {
		return nil, err
	}
	if th != nil {
		th.Stop()
	}

	uploads, err := openUploads(files)
	if err != nil {
		c.FinishSend(false)
		return nil, err
	}
	defer closeUploads(uploads)

	kind := domain.MessageTypeText
	if len(uploads) > 0 {
		kind = domain.MessageTypeFile
	}

	tempID := st.StagePending(text)
	msg, err := s.api.SendMessage(ctx, st.RoomID(), text, kind, uploads, progress)
	if err != nil {
		st.DropPending(tempID)
		c.FinishSend(false)
		l := log.L()
		l.Debug().Err(err).Str(log.FieldTempID, tempID).Msg("send failed, pending entry dropped")
		return nil, err
	}

	st.ResolvePending(tempID, msg)
	c.FinishSend(true)
	return msg, nil
}

// Edit replaces a message's content. Editing to the current trimmed
// content is a no-op with no network call; editing someone else's message
// is rejected locally.
func (s *Session) Edit(ctx context.Context, messageID, content string) error {
	s.mu.Lock()
	st := s.roomStore
	s.mu.Unlock()
	if st == nil {
		return ErrNoRoom
	}

	current, ok := st.Get(messageID)
	if !ok {
		return ErrUnknownMessage
	}
	if current.Sender.ID() != s.identity.UserID {
		return ErrNotSender
	}
	if err := domain.ValidateEdit(current.Content, content); err != nil {
		if errors.Is(err, domain.ErrUnchangedContent) {
			return nil
		}
		return err
	}

	msg, err := s.api.EditMessage(ctx, messageID, content)
	if err != nil {
		return err
	}
	st.ApplyUpdate(*msg)
	return nil
}

// Delete soft-deletes the user's own message. The entry stays in the store
// at its position but disappears from the rendered day groups.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	st := s.roomStore
	s.mu.Unlock()
	if st == nil {
		return ErrNoRoom
	}

	current, ok := st.Get(messageID)
	if !ok {
		return ErrUnknownMessage
	}
	if current.Sender.ID() != s.identity.UserID {
		return ErrNotSender
	}

	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	current.IsDeleted = true
	current.Content = ""
	st.ApplyUpdate(current)
	l := log.L()
	l.Debug().Str(log.FieldMessageID, messageID).Msg("message soft-deleted")
	return nil
}

// React toggles the (user, emoji) reaction on a message and replaces the
// local copy with the returned canonical one.
func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	s.mu.Lock()
	st := s.roomStore
	s.mu.Unlock()
	if st == nil {
		return ErrNoRoom
	}

	msg, err := s.api.ToggleReaction(ctx, messageID, emoji)
	if err != nil {
		return err
	}
	st.ApplyUpdate(*msg)
	return nil
}

// eventLoop routes decoded push events to the store and the side channels.
func (s *Session) eventLoop() {
	for ev := range s.conn.Events() {
		switch e := ev.(type) {
		case *domain.MessageEvent:
			s.applyMessageEvent(e)
		case *domain.TypingEvent:
			if e.UserID != s.identity.UserID {
				s.tracker.Apply(e)
			}
		case *domain.UnreadEvent:
			s.mu.Lock()
			s.unread[e.RoomID] = e.Count
			s.mu.Unlock()
		case *domain.NotificationEvent:
			select {
			case s.notifications <- *e:
			default:
			}
		case *domain.ErrorEvent:
			l := log.L()
			l.Warn().Str("reason", e.Message).Msg("push error event")
		}
	}
}

func (s *Session) applyMessageEvent(e *domain.MessageEvent) {
	roomID := e.RoomID
	if roomID == "" {
		roomID = e.Message.ChatRoomID
	}

	s.mu.Lock()
	st := s.roomStore
	s.mu.Unlock()

	// Events for other rooms are dropped here; background unread badges
	// are fed by the separate unread event.
	if st == nil || st.RoomID() != roomID {
		return
	}

	switch e.Type {
	case domain.EventNewMessage:
		st.ApplyNew(e.Message)
	case domain.EventMessageUpdated, domain.EventMessageDeleted, domain.EventReactionUpdated:
		st.ApplyUpdate(e.Message)
	}
}

func openUploads(files []composer.StagedFile) ([]transport.Upload, error) {
	uploads := make([]transport.Upload, 0, len(files))
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			closeUploads(uploads)
			return nil, err
		}
		uploads = append(uploads, transport.Upload{
			Filename: f.Filename,
			MimeType: f.MimeType,
			Size:     f.Size,
			Content:  rc,
		})
	}
	return uploads, nil
}

func closeUploads(uploads []transport.Upload) {
	for _, u := range uploads {
		if rc, ok := u.Content.(interface{ Close() error }); ok {
			rc.Close()
		}
	}
}

// parseIdentity extracts user id, display name and expiry from the bearer
// token without verifying the signature. The client never trusts these
// claims for authorization; they only drive display and local gating.
func parseIdentity(token string) Identity {
	if token == "" {
		return Identity{}
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}
	}

	id := Identity{}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		id.UserID = sub
	}
	if v, ok := claims["user_id"].(string); ok && v != "" {
		id.UserID = v
	}
	if v, ok := claims["username"].(string); ok {
		id.Username = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		id.ExpiresAt = &t
	}
	return id
}
