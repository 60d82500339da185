package log

const (
	// Chat
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldTempID    = "temp_id"

	// Connection
	FieldClient  = "client"
	FieldAttempt = "attempt"
)
