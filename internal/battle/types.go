// Package battle coordinates two-player battle rooms: connection identity,
// room lifecycle, per-turn decision synchronization, and the
// reconnection/grace-period supervisor.
package battle

import (
	"battle-relay/internal/sim"
)

type Role string

const (
	RoleP1 Role = "p1"
	RoleP2 Role = "p2"
)

func (r Role) Opponent() Role {
	if r == RoleP1 {
		return RoleP2
	}
	return RoleP1
}

func (r Role) side() sim.Side { return sim.Side(r) }

func roleForSide(s sim.Side) Role { return Role(s) }

// slotIndex maps a role to its slot position; callers must pass a valid role.
func (r Role) slotIndex() int {
	if r == RoleP2 {
		return 1
	}
	return 0
}

type LifecycleState string

const (
	StateWaiting  LifecycleState = "waiting"
	StateActive   LifecycleState = "active"
	StateFinished LifecycleState = "finished"
)

type DecisionKind string

const (
	DecisionMove   DecisionKind = "move"
	DecisionSwitch DecisionKind = "switch"
)

// Decision is a player's single per-turn choice. Index is 1-based: the move
// slot for a move, the bench position for a switch.
type Decision struct {
	Kind  DecisionKind `json:"kind"`
	Index int          `json:"index"`
}

func (d Decision) Validate() error {
	if d.Kind != DecisionMove && d.Kind != DecisionSwitch {
		return ErrInvalidDecision
	}
	if d.Index < 1 {
		return ErrInvalidDecision
	}
	return nil
}

func (d Decision) choiceString() string {
	if d.Kind == DecisionSwitch {
		return sim.SwitchChoice(d.Index)
	}
	return sim.MoveChoice(d.Index)
}

// ClientSession binds a stable user identity to one live connection.
// Values returned by the registry are snapshots; mutation goes through
// registry methods.
type ClientSession struct {
	UserID string
	ConnID string
	RoomID string
	Role   Role
	Conn   Conn
}
