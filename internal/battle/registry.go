package battle

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry maps live connections to stable user identities. It enforces the
// one-live-session-per-user invariant: a second Identify for the same user
// is rejected and the new connection must be dropped by the caller.
//
// The registry is safe for concurrent use from any room's handlers.
type Registry struct {
	mu     sync.Mutex
	byConn map[string]*ClientSession
	byUser map[string]*ClientSession
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: map[string]*ClientSession{},
		byUser: map[string]*ClientSession{},
	}
}

func (r *Registry) Identify(connID, userID string, conn Conn) (ClientSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if userID == "" || connID == "" {
		return ClientSession{}, ErrNotIdentified
	}
	if _, taken := r.byUser[userID]; taken {
		return ClientSession{}, ErrIdentityConflict
	}
	if _, dup := r.byConn[connID]; dup {
		// A connection identifies at most once.
		return ClientSession{}, ErrIdentityConflict
	}
	sess := &ClientSession{UserID: userID, ConnID: connID, Conn: conn}
	r.byConn[connID] = sess
	r.byUser[userID] = sess
	log.Debug().Str("user_id", userID).Str("conn_id", connID).Msg("session identified")
	return *sess, nil
}

func (r *Registry) Lookup(connID string) (ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byConn[connID]
	if !ok {
		return ClientSession{}, false
	}
	return *sess, true
}

func (r *Registry) FindByUserID(userID string) (ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byUser[userID]
	if !ok {
		return ClientSession{}, false
	}
	return *sess, true
}

// Remove is idempotent; it is called on every transport disconnect.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if cur, ok := r.byUser[sess.UserID]; ok && cur.ConnID == connID {
		delete(r.byUser, sess.UserID)
	}
}

func (r *Registry) SetRoom(connID, roomID string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.byConn[connID]; ok {
		sess.RoomID = roomID
		sess.Role = role
	}
}

// ClearRoomForUser detaches a user's session from roomID, if that is still
// the room it points at.
func (r *Registry) ClearRoomForUser(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.byUser[userID]; ok && sess.RoomID == roomID {
		sess.RoomID = ""
		sess.Role = ""
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
