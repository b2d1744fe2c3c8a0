package room

import "encoding/json"

// EventType is the closed set of message types exchanged over the socket.
type EventType string

const (
	EventHeartbeat   EventType = "HEARTBEAT"
	EventHello       EventType = "HELLO"
	EventPresence    EventType = "PRESENCE"
	EventStateSync   EventType = "STATE_SYNC"
	EventReqSync     EventType = "REQ_STATE_SYNC"
	EventError       EventType = "ERROR"

	EventTokenCreate       EventType = "TOKEN_CREATE"
	EventTokenMove         EventType = "TOKEN_MOVE"
	EventTokenDelete       EventType = "TOKEN_DELETE"
	EventTokenAssign       EventType = "TOKEN_ASSIGN"
	EventTokenSetLock      EventType = "TOKEN_SET_LOCK"
	EventTokenRename       EventType = "TOKEN_RENAME"
	EventTokenSetSize      EventType = "TOKEN_SET_SIZE"
	EventTokenBadgeToggle  EventType = "TOKEN_BADGE_TOGGLE"

	EventStrokeAdd     EventType = "STROKE_ADD"
	EventStrokeDelete  EventType = "STROKE_DELETE"
	EventStrokeSetLock EventType = "STROKE_SET_LOCK"

	EventEraseAt EventType = "ERASE_AT"

	EventShapeAdd     EventType = "SHAPE_ADD"
	EventShapeDelete  EventType = "SHAPE_DELETE"
	EventShapeSetLock EventType = "SHAPE_SET_LOCK"

	EventRoomSettings EventType = "ROOM_SETTINGS"
	EventUndo         EventType = "UNDO"
	EventRedo         EventType = "REDO"
)

// WireEvent is the one shape every frame in either direction takes.
type WireEvent struct {
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	TS       float64         `json:"ts,omitempty"`
}

func errorEvent(message string) *WireEvent {
	b, _ := json.Marshal(map[string]string{"message": message})
	return &WireEvent{Type: EventError, Payload: b}
}

// NewErrorEvent builds an ERROR event for callers outside this package
// (the connection layer, for a rate-limit rejection it decides on its own
// rather than inside applyEvent).
func NewErrorEvent(message string) *WireEvent {
	return errorEvent(message)
}

func eventWithPayload(t EventType, payload interface{}) *WireEvent {
	b, err := json.Marshal(payload)
	if err != nil {
		return errorEvent("internal encode error")
	}
	return &WireEvent{Type: t, Payload: b}
}

func decodePayload(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
