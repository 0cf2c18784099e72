package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateBattle(ctx context.Context, b Battle) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO battles (id, format, status, p1_user_id, p2_user_id, p1_name, p2_name, p1_connected, p2_connected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.Format, b.Status, b.P1UserID, b.P2UserID, b.P1Name, b.P2Name, b.P1Connected, b.P2Connected,
	)
	return err
}

func (s *Store) GetBattle(ctx context.Context, id string) (*Battle, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, format, status, p1_user_id, p2_user_id, p1_name, p2_name, winner,
		       p1_connected, p2_connected, p1_last_request, p2_last_request,
		       opening_transcript, created_at, updated_at
		FROM battles WHERE id = $1`, id)
	return scanBattle(row)
}

func (s *Store) ListRecentBattles(ctx context.Context, limit int) ([]Battle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, format, status, p1_user_id, p2_user_id, p1_name, p2_name, winner,
		       p1_connected, p2_connected, p1_last_request, p2_last_request,
		       opening_transcript, created_at, updated_at
		FROM battles ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Battle, 0, limit)
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBattle(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM battles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkBattleActive records the second player joining and flips the record to
// active in one statement, mirroring the in-memory Waiting->Active step.
func (s *Store) MarkBattleActive(ctx context.Context, id, p2UserID, p2Name string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE battles
		SET status = $2, p2_user_id = $3, p2_name = $4, p2_connected = TRUE, updated_at = now()
		WHERE id = $1`,
		id, BattleStatusActive, p2UserID, p2Name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkBattleFinished(ctx context.Context, id, winner string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE battles SET status = $2, winner = $3, updated_at = now() WHERE id = $1`,
		id, BattleStatusFinished, winner,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetSideConnected(ctx context.Context, id, side string, connected bool) error {
	col, err := sideColumn(side, "connected")
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx,
		fmt.Sprintf(`UPDATE battles SET %s = $2, updated_at = now() WHERE id = $1`, col),
		id, connected,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SaveLastRequest(ctx context.Context, id, side string, payload json.RawMessage) error {
	col, err := sideColumn(side, "last_request")
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx,
		fmt.Sprintf(`UPDATE battles SET %s = $2, updated_at = now() WHERE id = $1`, col),
		id, payload,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SaveOpeningTranscript(ctx context.Context, id string, lines []string) error {
	blob, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE battles SET opening_transcript = $2, updated_at = now() WHERE id = $1`,
		id, blob,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// sideColumn guards dynamic column names; only p1/p2 side prefixes exist.
func sideColumn(side, suffix string) (string, error) {
	switch side {
	case "p1", "p2":
		return side + "_" + suffix, nil
	default:
		return "", fmt.Errorf("invalid side %q", side)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBattle(row rowScanner) (*Battle, error) {
	var b Battle
	var transcript []byte
	err := row.Scan(
		&b.ID, &b.Format, &b.Status, &b.P1UserID, &b.P2UserID, &b.P1Name, &b.P2Name,
		&b.Winner, &b.P1Connected, &b.P2Connected, &b.P1LastRequest, &b.P2LastRequest,
		&transcript, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &b.OpeningTranscript); err != nil {
			return nil, err
		}
	}
	return &b, nil
}
