package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"battle-relay/internal/store"

	"github.com/go-chi/chi/v5"
)

const (
	defaultBattleListLimit = 50
	maxBattleListLimit     = 500
)

// battleReader is the read-only store slice the public endpoints need.
type battleReader interface {
	GetBattle(ctx context.Context, id string) (*store.Battle, error)
	ListRecentBattles(ctx context.Context, limit int) ([]store.Battle, error)
}

type coordinatorStats interface {
	RoomCount() int
	SessionCount() int
}

type PublicHandlers struct {
	reader battleReader
	stats  coordinatorStats
}

func NewPublicHandlers(reader battleReader, stats coordinatorStats) *PublicHandlers {
	return &PublicHandlers{reader: reader, stats: stats}
}

func (h *PublicHandlers) Battles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricPublicQueryTotal.Add(1)
		limit := ParseLimit(r, defaultBattleListLimit, maxBattleListLimit)
		items, err := h.reader.ListRecentBattles(r.Context(), limit)
		if err != nil {
			metricPublicQueryErrors.Add(1)
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": items,
			"limit": limit,
		})
	}
}

func (h *PublicHandlers) Battle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricPublicQueryTotal.Add(1)
		battleID := chi.URLParam(r, "battle_id")
		if battleID == "" {
			metricPublicQueryErrors.Add(1)
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		battle, err := h.reader.GetBattle(r.Context(), battleID)
		if err != nil {
			metricPublicQueryErrors.Add(1)
			if errors.Is(err, store.ErrNotFound) {
				WriteHTTPError(w, http.StatusNotFound, "battle_not_found")
				return
			}
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"battle": battle})
	}
}

// Transcript serves the opening protocol lines of a battle verbatim.
func (h *PublicHandlers) Transcript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricPublicQueryTotal.Add(1)
		battleID := chi.URLParam(r, "battle_id")
		if battleID == "" {
			metricPublicQueryErrors.Add(1)
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		battle, err := h.reader.GetBattle(r.Context(), battleID)
		if err != nil {
			metricPublicQueryErrors.Add(1)
			if errors.Is(err, store.ErrNotFound) {
				WriteHTTPError(w, http.StatusNotFound, "battle_not_found")
				return
			}
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		transcript := battle.OpeningTranscript
		if transcript == nil {
			transcript = []string{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"battle_id":  battleID,
			"transcript": transcript,
		})
	}
}

func (h *PublicHandlers) Stats() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rooms":    h.stats.RoomCount(),
			"sessions": h.stats.SessionCount(),
		})
	}
}
