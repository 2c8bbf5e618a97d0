// Package model defines data structures for the scene client.
package model

import (
	"time"
)

// Phase is the consumer-visible state of a scene.
type Phase string

const (
	// PhaseConfig gathers participant and description input.
	PhaseConfig Phase = "config"
	// PhaseLoading means a stream is active but nothing has been rendered yet.
	PhaseLoading Phase = "loading"
	// PhaseResult means events are being rendered.
	PhaseResult Phase = "result"
)

// Scene is the externally visible state of a running or finished scene.
type Scene struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Description string              `json:"description"`
	Configs     []ParticipantConfig `json:"character_configs"`
	Length      int                 `json:"length"`
	DialogueID  int64               `json:"dialogue_id,omitempty"`
	Phase       Phase               `json:"phase"`
	Done        bool                `json:"done"`
	Failure     string              `json:"failure,omitempty"`
	Notices     []string            `json:"notices,omitempty"`
	Messages    []Message           `json:"messages"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// CreateSceneRequest is the request to start a new scene.
type CreateSceneRequest struct {
	Description string              `json:"description"`
	Configs     []ParticipantConfig `json:"character_configs"`
	Length      int                 `json:"length,omitempty"`
}

// CreateSceneResponse is returned after a scene has started.
type CreateSceneResponse struct {
	ID        string `json:"id"`
	StreamURL string `json:"stream_url"`
}

// ListScenesResponse is the response for listing scenes.
type ListScenesResponse struct {
	Scenes []Scene `json:"scenes"`
	Total  int     `json:"total"`
}

// RosterResponse lists the characters and models usable in a scene.
type RosterResponse struct {
	Characters []Character `json:"characters"`
	LLMs       []LLM       `json:"llms"`
}

// HeartbeatEvent keeps SSE relays alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// FailureEvent is relayed when a scene's stream fails.
type FailureEvent struct {
	Message string `json:"message"`
}
