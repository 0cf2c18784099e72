package battle

import "encoding/json"

// Conn is the transport's side of a client connection. Send must not block
// the caller (the websocket layer buffers and drops slow clients); Close
// terminates the connection after a coordinator-initiated rejection.
type Conn interface {
	Send(msg OutboundMessage)
	Close(reason string)
}

// OutboundMessage is the single envelope for every coordinator-to-client
// event. Unused fields stay empty on the wire.
type OutboundMessage struct {
	Type           string          `json:"type"`
	RoomID         string          `json:"room_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Role           Role            `json:"role,omitempty"`
	Format         string          `json:"format,omitempty"`
	OpponentUserID string          `json:"opponent_user_id,omitempty"`
	Reconnected    bool            `json:"reconnected,omitempty"`
	Lines          []string        `json:"lines,omitempty"`
	Request        json.RawMessage `json:"request,omitempty"`
	Winner         Role            `json:"winner,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Message        string          `json:"message,omitempty"`
	Temporary      bool            `json:"temporary,omitempty"`
	Error          string          `json:"error,omitempty"`
}

const (
	evIdentified           = "identified"
	evRoomCreated          = "room_created"
	evRoomJoined           = "room_joined"
	evProtocolEvent        = "protocol_event"
	evRoomFinished         = "room_finished"
	evOpponentDisconnected = "opponent_disconnected"
	evOpponentReconnected  = "opponent_reconnected"
	evError                = "error"
)

func eventIdentified(userID string) OutboundMessage {
	return OutboundMessage{Type: evIdentified, UserID: userID}
}

func eventRoomCreated(roomID, format string, role Role) OutboundMessage {
	return OutboundMessage{Type: evRoomCreated, RoomID: roomID, Format: format, Role: role}
}

func eventRoomJoined(roomID string, role Role, opponent string, reconnected bool) OutboundMessage {
	return OutboundMessage{Type: evRoomJoined, RoomID: roomID, Role: role, OpponentUserID: opponent, Reconnected: reconnected}
}

func eventProtocol(roomID string, lines []string) OutboundMessage {
	return OutboundMessage{Type: evProtocolEvent, RoomID: roomID, Lines: lines}
}

// eventRequestReplay re-frames a retained decision-request payload as a
// fresh request line, matching the shape of live delivery.
func eventRequestReplay(roomID string, payload json.RawMessage) OutboundMessage {
	return OutboundMessage{Type: evProtocolEvent, RoomID: roomID, Lines: []string{"|request|" + string(payload)}, Request: payload}
}

func eventRoomFinished(roomID string, winner Role, reason string) OutboundMessage {
	return OutboundMessage{Type: evRoomFinished, RoomID: roomID, Winner: winner, Reason: reason}
}

func eventOpponentDisconnected(roomID, message string, temporary bool) OutboundMessage {
	return OutboundMessage{Type: evOpponentDisconnected, RoomID: roomID, Message: message, Temporary: temporary}
}

func eventOpponentReconnected(roomID, userID string) OutboundMessage {
	return OutboundMessage{Type: evOpponentReconnected, RoomID: roomID, UserID: userID}
}

// EventError builds the error event for a coordinator rejection; exported
// for the transport layer.
func EventError(err error) OutboundMessage {
	return OutboundMessage{Type: evError, Error: err.Error()}
}
