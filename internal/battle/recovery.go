package battle

import (
	"context"
	"errors"
	"fmt"

	"battle-relay/internal/store"

	"github.com/rs/zerolog/log"
)

// joinAfterRestart handles a join for a room the process no longer holds in
// memory. The durable record is the cross-restart source of truth, but only
// the engine's protocol output is persisted, not its internal state, so an
// active room found in the store cannot be resumed: it is declared
// unrecoverable, finished with no winner, and the reconnecting client is
// told explicitly.
func (c *Coordinator) joinAfterRestart(ctx context.Context, sess ClientSession, roomID string) (Role, error) {
	rec, err := c.store.GetBattle(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrRoomNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	var role Role
	switch sess.UserID {
	case rec.P1UserID:
		role = RoleP1
	case rec.P2UserID:
		role = RoleP2
	default:
		// Strangers cannot resurrect someone else's battle.
		return "", ErrRoomNotFound
	}
	if rec.Status != store.BattleStatusActive {
		return "", ErrRoomNotFound
	}

	if err := c.store.MarkBattleFinished(ctx, roomID, ""); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("persist unrecoverable status failed")
	}
	log.Warn().Str("room_id", roomID).Str("user_id", sess.UserID).Msg("room unrecoverable after restart")
	sess.Conn.Send(eventRoomFinished(roomID, "", reasonUnrecoverable))
	return role, ErrEngineUnrecoverable
}
