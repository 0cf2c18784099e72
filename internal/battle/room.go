package battle

import (
	"encoding/json"
	"sync"
	"time"

	"battle-relay/internal/sim"
)

// Slot is one side's occupancy record. conn == nil means disconnected,
// pending reconnection or forfeiture; Deadline is the grace cutoff and is
// zero while connected.
type Slot struct {
	UserID      string
	ConnID      string
	conn        Conn
	Deadline    time.Time
	LastRequest json.RawMessage
}

func (s *Slot) connected() bool { return s != nil && s.conn != nil }

// Room is one match. All mutable state is guarded by mu; holding mu across
// the both-present decision check, the engine writes, and the clear makes
// the turn commit atomic per room.
type Room struct {
	ID        string
	Format    string
	CreatedAt time.Time

	mu        sync.Mutex
	state     LifecycleState
	slots     [2]*Slot
	pending   [2]*Decision
	forwarded [2]bool
	engine    sim.Instance

	opening         []string
	openingRecorded bool

	winner       Role
	finishReason string
	cleanupAt    time.Time
}

func newRoom(id, format string, creator *Slot, now time.Time) *Room {
	r := &Room{
		ID:        id,
		Format:    format,
		CreatedAt: now,
		state:     StateWaiting,
	}
	r.slots[0] = creator
	return r
}

// slotOfLocked returns the slot owned by userID and its role.
func (r *Room) slotOfLocked(userID string) (*Slot, Role, bool) {
	if r.slots[0] != nil && r.slots[0].UserID == userID {
		return r.slots[0], RoleP1, true
	}
	if r.slots[1] != nil && r.slots[1].UserID == userID {
		return r.slots[1], RoleP2, true
	}
	return nil, "", false
}

func (r *Room) slotLocked(role Role) *Slot { return r.slots[role.slotIndex()] }

// connsLocked snapshots the live connections for fan-out outside the lock.
func (r *Room) connsLocked() []Conn {
	var out []Conn
	for _, s := range r.slots {
		if s.connected() {
			out = append(out, s.conn)
		}
	}
	return out
}

func (r *Room) bothDisconnectedLocked() bool {
	return r.slots[0] != nil && !r.slots[0].connected() &&
		r.slots[1] != nil && !r.slots[1].connected()
}

// roleForEngineWinner maps the engine's winner name onto a role. Player
// names handed to the engine are the slot user ids.
func (r *Room) roleForEngineWinnerLocked(name string) Role {
	if name == "" {
		return ""
	}
	if r.slots[0] != nil && r.slots[0].UserID == name {
		return RoleP1
	}
	if r.slots[1] != nil && r.slots[1].UserID == name {
		return RoleP2
	}
	return ""
}

// State reports the room's lifecycle state.
func (r *Room) State() LifecycleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Winner reports the declared winner, empty while unfinished or on a tie.
func (r *Room) Winner() Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.winner
}
