package domain

import "time"

// Room kinds. A project room groups one chat room per participant pairing.
const (
	RoomKindAdminClient   = "admin-client"
	RoomKindAdminEngineer = "admin-engineer"
	RoomKindGroup         = "group"
)

// Room status.
const (
	RoomStatusActive   = "active"
	RoomStatusArchived = "archived"
)

// ProjectRoom is the top-level conversation container scoped to one project.
type ProjectRoom struct {
	ID        string    `json:"_id"`
	ProjectID string    `json:"project"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Participant is a member of a chat room.
type Participant struct {
	User Sender `json:"user"`
	Role string `json:"role"`
}

// ChatRoom is a single conversation thread within a project room.
type ChatRoom struct {
	ID            string        `json:"_id"`
	ProjectRoomID string        `json:"projectRoom"`
	Kind          string        `json:"type"`
	Status        string        `json:"status"`
	Participants  []Participant `json:"participants"`
	LastMessage   *Message      `json:"lastMessage,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Archived reports whether the room is closed for new messages.
func (r *ChatRoom) Archived() bool {
	return r.Status == RoomStatusArchived
}
