package battle

import "errors"

// Caller-facing errors carry stable wire strings; the transport maps them
// onto error events without rewriting.
var (
	ErrNotIdentified    = errors.New("not_identified")
	ErrIdentityConflict = errors.New("identity_conflict")

	ErrRoomNotFound   = errors.New("room_not_found")
	ErrRoomFull       = errors.New("room_full")
	ErrRoomNotWaiting = errors.New("room_not_waiting")
	ErrSelfJoin       = errors.New("self_join")
	ErrAlreadyInRoom  = errors.New("already_in_room")
	ErrNotInRoom      = errors.New("not_in_room")
	ErrRoleMismatch   = errors.New("role_mismatch")
	ErrRoomNotActive  = errors.New("room_not_active")
	ErrRoomFinished   = errors.New("room_finished")

	ErrInvalidDecision = errors.New("invalid_decision")

	// Retryable: room state is left unchanged.
	ErrEngineWriteFailed = errors.New("engine_write_failed")
	ErrStoreWriteFailed  = errors.New("store_write_failed")

	// Fatal to a room resurrected after a process restart: engine state is
	// not persisted, only its protocol output.
	ErrEngineUnrecoverable = errors.New("engine_unrecoverable")
)
