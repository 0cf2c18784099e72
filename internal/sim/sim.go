// Package sim is the boundary to the external battle-simulation engine.
// The coordinator treats the engine's protocol lines as opaque: it frames
// them into scoped events and extracts only the two markers it needs
// (decision requests and the terminal outcome).
package sim

import (
	"context"
	"fmt"
)

type Side string

const (
	SideP1 Side = "p1"
	SideP2 Side = "p2"
)

func (s Side) Valid() bool { return s == SideP1 || s == SideP2 }

func (s Side) Opponent() Side {
	if s == SideP1 {
		return SideP2
	}
	return SideP1
}

type Scope int

const (
	// ScopeOmniscient events go to every participant.
	ScopeOmniscient Scope = iota
	// ScopeSide events are for a single player's eyes.
	ScopeSide
)

// Event is one ordered batch of protocol lines emitted by the engine.
type Event struct {
	Scope Scope
	Side  Side // set when Scope == ScopeSide
	Lines []string
}

// Engine creates battle instances. One instance per room, destroyed with it.
type Engine interface {
	Start(ctx context.Context, battleID, format, p1Name, p2Name string) (Instance, error)
}

// Instance is a running battle. Events delivers engine output in emission
// order; the channel is closed when the engine terminates. Destroy is
// idempotent.
type Instance interface {
	SubmitChoice(ctx context.Context, side Side, choice string) error
	Events() <-chan Event
	Destroy()
}

// MoveChoice and SwitchChoice build choice strings in the engine's own
// move/switch grammar. Indexes are 1-based.
func MoveChoice(index int) string { return fmt.Sprintf("move %d", index) }

func SwitchChoice(slot int) string { return fmt.Sprintf("switch %d", slot) }
