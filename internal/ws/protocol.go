package ws

import "battle-relay/internal/battle"

// Inbound client messages. Every message carries a type discriminator; the
// read loop sniffs it and unmarshals the concrete shape.

type IdentifyMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type CreateRoomMessage struct {
	Type   string `json:"type"`
	Format string `json:"format"`
}

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type DecisionMessage struct {
	Type        string              `json:"type"`
	RoomID      string              `json:"room_id"`
	Kind        battle.DecisionKind `json:"kind"`
	Index       int                 `json:"index"`
	ForceSwitch bool                `json:"force_switch,omitempty"`
}

type LeaveRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}
