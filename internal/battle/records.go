package battle

import (
	"context"
	"encoding/json"

	"battle-relay/internal/store"
)

// RecordStore is the durable-store collaborator. *store.Store satisfies it;
// tests substitute an in-memory implementation.
type RecordStore interface {
	CreateBattle(ctx context.Context, b store.Battle) error
	GetBattle(ctx context.Context, id string) (*store.Battle, error)
	DeleteBattle(ctx context.Context, id string) error
	MarkBattleActive(ctx context.Context, id, p2UserID, p2Name string) error
	MarkBattleFinished(ctx context.Context, id, winner string) error
	SetSideConnected(ctx context.Context, id, side string, connected bool) error
	SaveLastRequest(ctx context.Context, id, side string, payload json.RawMessage) error
	SaveOpeningTranscript(ctx context.Context, id string, lines []string) error
}
