package model

// Message is one participant's turn, reconstructed from streamed events.
// It is never transmitted by the backend.
type Message struct {
	CharacterID int64  `json:"character_id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Content     string `json:"content"`
	Complete    bool   `json:"complete"`
}

// ParticipantConfig pairs a character with the language model voicing it.
type ParticipantConfig struct {
	CharacterID int64 `json:"character_id"`
	LLMID       int64 `json:"llm_id"`
}

// StartStreamRequest is the body of the backend stream request.
type StartStreamRequest struct {
	SceneDescription string              `json:"scene_description"`
	CharacterConfigs []ParticipantConfig `json:"character_configs"`
	Length           int                 `json:"length"`
}

// ErrorResponse is the backend's error body.
type ErrorResponse struct {
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Character is a roster entry available for a scene.
type Character struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	HasAvatar bool   `json:"has_avatar"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsGlobal  bool   `json:"is_global"`
}

// LLM is a language model that can voice a character.
type LLM struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	OpenRouterIdentifier string `json:"openrouter_identifier,omitempty"`
}
