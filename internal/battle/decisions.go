package battle

import (
	"context"
	"fmt"

	"battle-relay/internal/sim"

	"github.com/rs/zerolog/log"
)

// SubmitDecision collects one decision per player per turn. The both-present
// check, the paired engine writes (P1 then P2), and the clear all run under
// the room mutex, so no third submission can interleave with a turn commit
// and no decision is ever forwarded twice.
//
// forceSwitch forwards this side's decision unconditionally without waiting
// on the peer; the engine's mid-turn forced-switch sub-phase resolves each
// side independently.
//
// On an engine write failure the unaccepted decision stays pending and the
// caller may retry; a half the engine already accepted is marked forwarded
// and is never replayed.
func (c *Coordinator) SubmitDecision(ctx context.Context, connID, roomID string, d Decision, forceSwitch bool) error {
	if err := d.Validate(); err != nil {
		return err
	}
	sess, ok := c.registry.Lookup(connID)
	if !ok {
		return ErrNotIdentified
	}
	room := c.roomByID(roomID)
	if room == nil {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	switch room.state {
	case StateActive:
	case StateFinished:
		return ErrRoomFinished
	default:
		return ErrRoomNotActive
	}
	_, role, mine := room.slotOfLocked(sess.UserID)
	if !mine {
		return ErrNotInRoom
	}
	if sess.Role != "" && sess.Role != role {
		return ErrRoleMismatch
	}

	if forceSwitch {
		if err := room.engine.SubmitChoice(ctx, role.side(), d.choiceString()); err != nil {
			return fmt.Errorf("%w: %v", ErrEngineWriteFailed, err)
		}
		room.pending[role.slotIndex()] = nil
		log.Debug().Str("room_id", room.ID).Str("role", string(role)).Msg("forced switch forwarded")
		return nil
	}

	room.pending[role.slotIndex()] = &d
	room.forwarded[role.slotIndex()] = false
	for i := range room.pending {
		if room.pending[i] == nil && !room.forwarded[i] {
			return nil
		}
	}

	// Turn commit: forward P1 then P2 as one logical unit. Each half is
	// marked forwarded the moment the engine accepts it, so a partial
	// failure retries only the half the engine has not seen; the accepted
	// half satisfies the gate above without being replayed.
	for i, side := range [2]sim.Side{sim.SideP1, sim.SideP2} {
		if room.pending[i] == nil {
			continue
		}
		if err := room.engine.SubmitChoice(ctx, side, room.pending[i].choiceString()); err != nil {
			return fmt.Errorf("%w: %v", ErrEngineWriteFailed, err)
		}
		room.pending[i] = nil
		room.forwarded[i] = true
	}
	room.forwarded[0], room.forwarded[1] = false, false
	log.Debug().Str("room_id", room.ID).Msg("turn committed")
	return nil
}
