package model

import (
	"encoding/json"
	"time"
)

// JournalEvent is the envelope published for every reduced dialogue event.
type JournalEvent struct {
	ID        string          `json:"id"`
	SceneID   string          `json:"scene_id"`
	UserID    string          `json:"user_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
