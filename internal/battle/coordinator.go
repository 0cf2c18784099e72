package battle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"battle-relay/internal/sim"
	"battle-relay/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	defaultReconnectGrace = 120 * time.Second
	defaultCleanupDelay   = 60 * time.Second
	janitorSweepInterval  = 500 * time.Millisecond

	reasonEngineTerminal = "engine_terminal"
	reasonOpponentLeft   = "opponent_left"
	reasonGraceExpired   = "grace_expired"
	reasonAbandoned      = "abandoned"
	reasonUnrecoverable  = "engine_unrecoverable"
)

type Options struct {
	ReconnectGrace   time.Duration
	RoomCleanupDelay time.Duration
}

// Coordinator owns every room and composes the session registry, decision
// synchronizer, protocol router, and reconnection supervisor around the
// engine and durable-store collaborators.
type Coordinator struct {
	store    RecordStore
	engine   sim.Engine
	registry *Registry

	grace        time.Duration
	cleanupDelay time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
}

func New(st RecordStore, eng sim.Engine, opts Options) *Coordinator {
	grace := opts.ReconnectGrace
	if grace <= 0 {
		grace = defaultReconnectGrace
	}
	cleanup := opts.RoomCleanupDelay
	if cleanup <= 0 {
		cleanup = defaultCleanupDelay
	}
	return &Coordinator{
		store:        st,
		engine:       eng,
		registry:     NewRegistry(),
		grace:        grace,
		cleanupDelay: cleanup,
		rooms:        map[string]*Room{},
	}
}

func (c *Coordinator) Registry() *Registry { return c.registry }

// StartJanitor runs the deadline sweep: grace-period expiries and deferred
// removal of finished rooms. Expiry handlers re-validate room state under
// the room lock before acting, so a reconnection that lands just before a
// sweep always wins.
func (c *Coordinator) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorSweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.sweep(ctx, now)
			}
		}
	}()
}

// Identify binds userID to the connection. On ErrIdentityConflict the caller
// must terminate the new connection; the existing session is untouched.
func (c *Coordinator) Identify(connID, userID string, conn Conn) error {
	sess, err := c.registry.Identify(connID, userID, conn)
	if err != nil {
		return err
	}
	sess.Conn.Send(eventIdentified(userID))
	return nil
}

// CreateRoom opens a Waiting room with the caller as P1. The durable record
// is written before the room becomes visible; a store failure leaves no
// state behind and is retryable.
func (c *Coordinator) CreateRoom(ctx context.Context, connID, format string) (string, error) {
	sess, ok := c.registry.Lookup(connID)
	if !ok {
		return "", ErrNotIdentified
	}
	if sess.RoomID != "" {
		return "", ErrAlreadyInRoom
	}

	roomID := store.NewID()
	err := c.store.CreateBattle(ctx, store.Battle{
		ID:          roomID,
		Format:      format,
		Status:      store.BattleStatusWaiting,
		P1UserID:    sess.UserID,
		P1Name:      sess.UserID,
		P1Connected: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	room := newRoom(roomID, format, &Slot{
		UserID: sess.UserID,
		ConnID: sess.ConnID,
		conn:   sess.Conn,
	}, time.Now())

	c.mu.Lock()
	c.rooms[roomID] = room
	c.mu.Unlock()
	c.registry.SetRoom(connID, roomID, RoleP1)

	log.Info().Str("room_id", roomID).Str("format", format).Str("user_id", sess.UserID).Msg("room created")
	sess.Conn.Send(eventRoomCreated(roomID, format, RoleP1))
	return roomID, nil
}

// JoinRoom fills the P2 slot of a Waiting room, or reconnects a player to
// an Active room they already own a slot in. Filling the second slot is the
// Waiting->Active transition: the record is persisted as active and the
// engine instance started exactly once.
func (c *Coordinator) JoinRoom(ctx context.Context, connID, roomID string) (Role, error) {
	sess, ok := c.registry.Lookup(connID)
	if !ok {
		return "", ErrNotIdentified
	}

	room := c.roomByID(roomID)
	if room == nil {
		return c.joinAfterRestart(ctx, sess, roomID)
	}

	room.mu.Lock()
	if room.state == StateActive {
		if slot, role, mine := room.slotOfLocked(sess.UserID); mine && !slot.connected() {
			return role, c.reconnectLocked(ctx, room, slot, role, sess)
		}
		room.mu.Unlock()
		return "", ErrRoomNotWaiting
	}
	if room.state != StateWaiting {
		room.mu.Unlock()
		return "", ErrRoomNotWaiting
	}
	creator := room.slots[0]
	if creator == nil {
		room.mu.Unlock()
		return "", ErrRoomNotFound
	}
	if creator.UserID == sess.UserID {
		room.mu.Unlock()
		return "", ErrSelfJoin
	}
	if sess.RoomID != "" {
		room.mu.Unlock()
		return "", ErrAlreadyInRoom
	}
	if room.slots[1] != nil {
		room.mu.Unlock()
		return "", ErrRoomFull
	}

	inst, err := c.engine.Start(ctx, room.ID, room.Format, creator.UserID, sess.UserID)
	if err != nil {
		room.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrEngineWriteFailed, err)
	}
	if err := c.store.MarkBattleActive(ctx, room.ID, sess.UserID, sess.UserID); err != nil {
		room.mu.Unlock()
		inst.Destroy()
		return "", fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	room.slots[1] = &Slot{UserID: sess.UserID, ConnID: sess.ConnID, conn: sess.Conn}
	room.state = StateActive
	room.engine = inst
	creatorConn := creator.conn
	creatorUser := creator.UserID
	room.mu.Unlock()

	c.registry.SetRoom(connID, room.ID, RoleP2)
	go c.pumpEngineEvents(room, inst)

	log.Info().Str("room_id", room.ID).Str("p1", creatorUser).Str("p2", sess.UserID).Msg("room active")
	sess.Conn.Send(eventRoomJoined(room.ID, RoleP2, creatorUser, false))
	if creatorConn != nil {
		creatorConn.Send(eventRoomJoined(room.ID, RoleP1, sess.UserID, false))
	}
	return RoleP2, nil
}

// LeaveRoom is a voluntary, permanent departure, distinct from a transport
// disconnect: leaving an Active room immediately finishes it with the
// remaining player as winner, no grace period.
func (c *Coordinator) LeaveRoom(ctx context.Context, connID, roomID string) error {
	sess, ok := c.registry.Lookup(connID)
	if !ok {
		return ErrNotIdentified
	}
	room := c.roomByID(roomID)
	if room == nil {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	_, role, mine := room.slotOfLocked(sess.UserID)
	if !mine {
		room.mu.Unlock()
		return ErrNotInRoom
	}
	state := room.state
	room.slots[role.slotIndex()] = nil
	room.pending[role.slotIndex()] = nil
	room.mu.Unlock()

	c.registry.ClearRoomForUser(sess.UserID, room.ID)
	log.Info().Str("room_id", room.ID).Str("user_id", sess.UserID).Str("role", string(role)).Msg("player left room")

	switch state {
	case StateWaiting:
		// Never started; drop the room and its record.
		c.removeRoom(room.ID)
		if err := c.store.DeleteBattle(ctx, room.ID); err != nil {
			log.Error().Err(err).Str("room_id", room.ID).Msg("delete abandoned record failed")
		}
	case StateActive:
		c.finishRoom(ctx, room, role.Opponent(), reasonOpponentLeft)
	}
	return nil
}

// HandleDisconnect reacts to a transport-level connection loss. Active
// rooms are handed to the reconnection supervisor rather than finished.
func (c *Coordinator) HandleDisconnect(ctx context.Context, connID string) {
	sess, ok := c.registry.Lookup(connID)
	c.registry.Remove(connID)
	if !ok || sess.RoomID == "" {
		return
	}
	room := c.roomByID(sess.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	slot, role, mine := room.slotOfLocked(sess.UserID)
	if !mine || slot.ConnID != connID {
		room.mu.Unlock()
		return
	}
	switch room.state {
	case StateWaiting:
		room.mu.Unlock()
		// Creator gone before anyone joined; nothing to preserve.
		c.removeRoom(room.ID)
		if err := c.store.DeleteBattle(ctx, room.ID); err != nil {
			log.Error().Err(err).Str("room_id", room.ID).Msg("delete abandoned record failed")
		}
	case StateActive:
		c.disconnectLocked(ctx, room, slot, role)
	default:
		slot.conn = nil
		slot.ConnID = ""
		room.mu.Unlock()
	}
}

// finishRoom drives the terminal transition. Idempotent: the first caller
// wins, later calls observe StateFinished and return.
func (c *Coordinator) finishRoom(ctx context.Context, room *Room, winner Role, reason string) {
	c.finishRoomIf(ctx, room, winner, reason, nil)
}

// finishRoomIf finishes the room only if guard (run under the room lock,
// together with the state transition) still holds. The grace-expiry path
// uses it to re-validate that the slot is still disconnected, so an expiry
// can never outrun a reconnection that already completed.
func (c *Coordinator) finishRoomIf(ctx context.Context, room *Room, winner Role, reason string, guard func(*Room) bool) {
	room.mu.Lock()
	if room.state == StateFinished {
		room.mu.Unlock()
		return
	}
	if guard != nil && !guard(room) {
		room.mu.Unlock()
		return
	}
	room.state = StateFinished
	room.winner = winner
	room.finishReason = reason
	room.cleanupAt = time.Now().Add(c.cleanupDelay)
	room.pending[0], room.pending[1] = nil, nil
	room.forwarded[0], room.forwarded[1] = false, false
	for _, s := range room.slots {
		if s != nil {
			s.Deadline = time.Time{}
		}
	}
	inst := room.engine
	conns := room.connsLocked()
	users := [2]string{}
	for i, s := range room.slots {
		if s != nil {
			users[i] = s.UserID
		}
	}
	room.mu.Unlock()

	if inst != nil {
		inst.Destroy()
	}
	if err := c.store.MarkBattleFinished(ctx, room.ID, string(winner)); err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Msg("persist finished status failed")
	}
	for _, u := range users {
		if u != "" {
			c.registry.ClearRoomForUser(u, room.ID)
		}
	}
	log.Info().Str("room_id", room.ID).Str("winner", string(winner)).Str("reason", reason).Msg("room finished")
	for _, conn := range conns {
		conn.Send(eventRoomFinished(room.ID, winner, reason))
	}
}

func (c *Coordinator) sweep(ctx context.Context, now time.Time) {
	c.mu.Lock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		if room.state == StateFinished {
			expired := !room.cleanupAt.IsZero() && now.After(room.cleanupAt)
			room.mu.Unlock()
			if expired {
				c.removeRoom(room.ID)
			}
			continue
		}
		room.mu.Unlock()
		c.sweepGraceDeadlines(ctx, room, now)
	}
}

func (c *Coordinator) roomByID(roomID string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

func (c *Coordinator) removeRoom(roomID string) {
	c.mu.Lock()
	room := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if room == nil {
		return
	}
	room.mu.Lock()
	inst := room.engine
	room.mu.Unlock()
	if inst != nil {
		inst.Destroy()
	}
	log.Debug().Str("room_id", roomID).Msg("room removed")
}

// RoomCount reports live rooms, for the inspection surface.
func (c *Coordinator) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// SessionCount reports identified connections, for the inspection surface.
func (c *Coordinator) SessionCount() int {
	return c.registry.Len()
}

// RoomByID exposes a room for tests and read-only inspection.
func (c *Coordinator) RoomByID(roomID string) (*Room, bool) {
	room := c.roomByID(roomID)
	return room, room != nil
}
