package battle

import (
	"context"
	"encoding/json"

	"battle-relay/internal/sim"

	"github.com/rs/zerolog/log"
)

// The protocol router fans engine output out to the room's connections.
// One goroutine per room consumes the engine's event channel, so events of
// a room are handled strictly in emission order.
func (c *Coordinator) pumpEngineEvents(room *Room, inst sim.Instance) {
	for ev := range inst.Events() {
		c.routeEvent(context.Background(), room, ev)
	}
}

// routeEvent delivers one engine event. Omniscient events broadcast to every
// connected slot; side events go to a single player. The first omniscient
// batch is the opening transcript; a side event carrying a decision request
// has its payload retained (and persisted) for reconnection replay. The
// router keeps only the latest request per player, never a full history.
func (c *Coordinator) routeEvent(ctx context.Context, room *Room, ev sim.Event) {
	room.mu.Lock()
	if room.state != StateActive {
		room.mu.Unlock()
		return
	}

	var targets []Conn
	var retainedFor Role
	var retained json.RawMessage

	switch ev.Scope {
	case sim.ScopeOmniscient:
		if !room.openingRecorded {
			c.recordOpeningLocked(room, ev.Lines)
		}
		targets = room.connsLocked()
	case sim.ScopeSide:
		role := roleForSide(ev.Side)
		slot := room.slotLocked(role)
		if slot == nil {
			room.mu.Unlock()
			return
		}
		if payload, ok := sim.RequestPayload(ev); ok {
			slot.LastRequest = payload
			retainedFor = role
			retained = payload
		}
		if slot.connected() {
			targets = []Conn{slot.conn}
		}
	}
	winnerName, terminal := "", false
	if ev.Scope == sim.ScopeOmniscient {
		winnerName, terminal = sim.Terminal(ev)
	}
	winnerRole := room.roleForEngineWinnerLocked(winnerName)
	room.mu.Unlock()

	for _, conn := range targets {
		conn.Send(eventProtocol(room.ID, ev.Lines))
	}
	if retainedFor != "" {
		if err := c.store.SaveLastRequest(ctx, room.ID, string(retainedFor), retained); err != nil {
			log.Error().Err(err).Str("room_id", room.ID).Str("role", string(retainedFor)).Msg("persist last request failed")
		}
	}
	if terminal {
		c.finishRoom(ctx, room, winnerRole, reasonEngineTerminal)
	}
}

// recordOpeningLocked stores the opening transcript exactly once, at battle
// start, for replay to players who reconnect before seeing it live.
func (c *Coordinator) recordOpeningLocked(room *Room, lines []string) {
	room.opening = append([]string(nil), lines...)
	room.openingRecorded = true
	roomID := room.ID
	transcript := room.opening
	// Persistence is fire-and-forget; reconnect resync re-reads memory.
	go func() {
		if err := c.store.SaveOpeningTranscript(context.Background(), roomID, transcript); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("persist opening transcript failed")
		}
	}()
}

// replayMessagesLocked builds the resync sequence for a reconnected player: the
// opening transcript, then the latest retained decision request re-framed
// as a fresh request event. Only the reconnection supervisor calls this.
func (room *Room) replayMessagesLocked(role Role) []OutboundMessage {
	var out []OutboundMessage
	if room.openingRecorded {
		out = append(out, eventProtocol(room.ID, room.opening))
	}
	if slot := room.slotLocked(role); slot != nil && len(slot.LastRequest) > 0 {
		out = append(out, eventRequestReplay(room.ID, slot.LastRequest))
	}
	return out
}
