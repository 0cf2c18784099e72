package store

import (
	"encoding/json"
	"time"
)

const (
	BattleStatusWaiting  = "waiting"
	BattleStatusActive   = "active"
	BattleStatusFinished = "finished"
)

// Battle is the durable record of one room. Last-request payloads are
// engine-defined blobs stored verbatim; the coordinator never inspects them.
type Battle struct {
	ID                string          `json:"id"`
	Format            string          `json:"format"`
	Status            string          `json:"status"`
	P1UserID          string          `json:"p1_user_id"`
	P2UserID          string          `json:"p2_user_id,omitempty"`
	P1Name            string          `json:"p1_name"`
	P2Name            string          `json:"p2_name,omitempty"`
	Winner            string          `json:"winner,omitempty"`
	P1Connected       bool            `json:"p1_connected"`
	P2Connected       bool            `json:"p2_connected"`
	P1LastRequest     json.RawMessage `json:"-"`
	P2LastRequest     json.RawMessage `json:"-"`
	OpeningTranscript []string        `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
