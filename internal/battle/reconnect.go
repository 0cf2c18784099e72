package battle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// The reconnection supervisor: a disconnected slot carries a grace deadline
// instead of an armed timer; the janitor sweep fires expiries and every
// handler re-validates state under the room lock, which is what makes the
// reconnect-vs-expiry race safe. Setting a new deadline always replaces the
// previous one, so at most one deadline is armed per slot.

// disconnectLocked is entered with room.mu held and releases it.
func (c *Coordinator) disconnectLocked(ctx context.Context, room *Room, slot *Slot, role Role) {
	slot.conn = nil
	slot.ConnID = ""
	slot.Deadline = time.Now().Add(c.grace)
	opponent := room.slotLocked(role.Opponent())
	var opponentConn Conn
	if opponent.connected() {
		opponentConn = opponent.conn
	}
	abandoned := room.bothDisconnectedLocked()
	room.mu.Unlock()

	if err := c.store.SetSideConnected(ctx, room.ID, string(role), false); err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Str("role", string(role)).Msg("persist disconnect marker failed")
	}
	log.Info().Str("room_id", room.ID).Str("role", string(role)).Dur("grace", c.grace).Msg("player disconnected, grace armed")

	if abandoned {
		// Both sides gone at once; nobody is owed a grace period.
		c.finishRoom(ctx, room, "", reasonAbandoned)
		return
	}
	if opponentConn != nil {
		opponentConn.Send(eventOpponentDisconnected(room.ID, "opponent disconnected, waiting for reconnect", true))
	}
}

// reconnectLocked is entered with room.mu held and releases it. The caller
// has already verified the slot belongs to sess.UserID and is disconnected.
func (c *Coordinator) reconnectLocked(ctx context.Context, room *Room, slot *Slot, role Role, sess ClientSession) error {
	slot.conn = sess.Conn
	slot.ConnID = sess.ConnID
	slot.Deadline = time.Time{}
	opponent := room.slotLocked(role.Opponent())
	var opponentConn Conn
	var opponentUser string
	if opponent != nil {
		opponentUser = opponent.UserID
		if opponent.connected() {
			opponentConn = opponent.conn
		}
	}
	replay := room.replayMessagesLocked(role)
	room.mu.Unlock()

	// The durable record must reflect the reconnect before the client is
	// told resync succeeded; otherwise a restart right after would serve
	// stale state.
	if err := c.store.SetSideConnected(ctx, room.ID, string(role), true); err != nil {
		room.mu.Lock()
		slot.conn = nil
		slot.ConnID = ""
		slot.Deadline = time.Now().Add(c.grace)
		room.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	c.registry.SetRoom(sess.ConnID, room.ID, role)
	log.Info().Str("room_id", room.ID).Str("role", string(role)).Str("user_id", sess.UserID).Msg("player reconnected")

	if opponentConn != nil {
		opponentConn.Send(eventOpponentReconnected(room.ID, sess.UserID))
	}
	sess.Conn.Send(eventRoomJoined(room.ID, role, opponentUser, true))
	for _, msg := range replay {
		sess.Conn.Send(msg)
	}
	return nil
}

// sweepGraceDeadlines forfeits slots whose grace period ran out. The
// deadline is re-checked under the room lock immediately before acting, so
// an expiry observed by one sweep cannot outrun a reconnection that already
// completed.
func (c *Coordinator) sweepGraceDeadlines(ctx context.Context, room *Room, now time.Time) {
	for _, role := range []Role{RoleP1, RoleP2} {
		room.mu.Lock()
		slot := room.slotLocked(role)
		expired := room.state == StateActive &&
			slot != nil && !slot.connected() &&
			!slot.Deadline.IsZero() && now.After(slot.Deadline)
		room.mu.Unlock()
		if !expired {
			continue
		}
		forfeited := role
		c.finishRoomIf(ctx, room, role.Opponent(), reasonGraceExpired, func(r *Room) bool {
			// Re-validate under the lock: a reconnect may have won the race.
			s := r.slotLocked(forfeited)
			return r.state == StateActive && s != nil && !s.connected() &&
				!s.Deadline.IsZero() && now.After(s.Deadline)
		})
		if room.State() == StateFinished {
			log.Info().Str("room_id", room.ID).Str("role", string(forfeited)).Msg("grace period expired, forfeited")
			return
		}
	}
}
