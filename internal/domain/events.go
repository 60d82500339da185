package domain

import "encoding/json"

// Push event types from server.
const (
	EventNewMessage      = "new_message"
	EventMessageUpdated  = "message_updated"
	EventMessageDeleted  = "message_deleted"
	EventReactionUpdated = "reaction_updated"
	EventUnreadUpdate    = "unreadUpdate"
	EventNotification    = "new_notification"
	EventTyping          = "typing"
	EventError           = "error"
	EventPong            = "pong"
)

// Push event types to server.
const (
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"
	EventPing      = "ping"
)

// BaseEvent is the envelope shared by all push events.
type BaseEvent struct {
	Type string `json:"type"`
}

// Client -> Server events

type JoinRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type LeaveRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// TypingEvent is both emitted and consumed: outbound it carries only the
// room and the started flag; inbound the server fills in the user fields.
type TypingEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"userName,omitempty"`
	Started  bool   `json:"isTyping"`
}

// Server -> Client events

// MessageEvent carries a full message for new_message, message_updated,
// message_deleted and reaction_updated. The payload is always the canonical
// server copy; the client replaces its local copy wholesale.
type MessageEvent struct {
	Type    string  `json:"type"`
	RoomID  string  `json:"roomId"`
	Message Message `json:"message"`
}

// UnreadEvent reports a changed unread count for one room.
type UnreadEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

// NotificationEvent is an out-of-band user notification.
type NotificationEvent struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	LinkURL string `json:"link,omitempty"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeEvent parses a raw push frame into its typed form. The returned
// value is one of the event structs above; unknown types return the
// BaseEvent so callers can log and skip them.
func DecodeEvent(data []byte) (interface{}, error) {
	var base BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case EventNewMessage, EventMessageUpdated, EventMessageDeleted, EventReactionUpdated:
		var ev MessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	case EventTyping:
		var ev TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	case EventUnreadUpdate:
		var ev UnreadEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	case EventNotification:
		var ev NotificationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	default:
		return &base, nil
	}
}
