package domain

import (
	"encoding/json"
	"time"
)

// Message types.
const (
	MessageTypeText   = "text"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Content and attachment limits enforced before any network call.
const (
	MaxContentLen     = 5000
	MaxAttachmentSize = 50 * 1024 * 1024
)

// UserSummary is the expanded form of a message sender.
type UserSummary struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	AvatarURL string `json:"profileImage,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Sender is the union-typed sender field: the API returns either a plain
// user id string or an expanded user-summary object. All display logic
// goes through ID() and DisplayName() rather than inspecting the union.
type Sender struct {
	id      string
	summary *UserSummary
}

// SenderID constructs a Sender from a bare user id.
func SenderID(id string) Sender {
	return Sender{id: id}
}

// SenderSummary constructs a Sender from an expanded user summary.
func SenderSummary(u UserSummary) Sender {
	return Sender{id: u.ID, summary: &u}
}

// ID returns the sender's user id regardless of wire shape.
func (s Sender) ID() string {
	return s.id
}

// Summary returns the expanded user object, or nil if the API sent a bare id.
func (s Sender) Summary() *UserSummary {
	return s.summary
}

// DisplayName returns the best available human-readable name.
func (s Sender) DisplayName() string {
	if s.summary == nil {
		return s.id
	}
	name := s.summary.FirstName
	if s.summary.LastName != "" {
		if name != "" {
			name += " "
		}
		name += s.summary.LastName
	}
	if name == "" {
		name = s.summary.Email
	}
	if name == "" {
		name = s.id
	}
	return name
}

func (s *Sender) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*s = Sender{id: id}
		return nil
	}
	var summary UserSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return err
	}
	*s = Sender{id: summary.ID, summary: &summary}
	return nil
}

func (s Sender) MarshalJSON() ([]byte, error) {
	if s.summary != nil {
		return json.Marshal(s.summary)
	}
	return json.Marshal(s.id)
}

// Attachment is a stored file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// ReadMarker records that a user has seen a message.
type ReadMarker struct {
	UserID string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

// Reaction is a single (user, emoji) pair on a message. Toggling the same
// pair twice returns the reaction list to its original state.
type Reaction struct {
	User  Sender `json:"user"`
	Emoji string `json:"emoji"`
}

// Message is one entry in a chat room's ordered history.
type Message struct {
	ID          string       `json:"_id"`
	ChatRoomID  string       `json:"chatRoom"`
	Sender      Sender       `json:"sender"`
	Content     string       `json:"content"`
	Type        string       `json:"type"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReadBy      []ReadMarker `json:"readBy,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	IsEdited    bool         `json:"isEdited"`
	IsDeleted   bool         `json:"isDeleted"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
}

// HasReaction reports whether the given user has reacted with the given emoji.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.User.ID() == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}
