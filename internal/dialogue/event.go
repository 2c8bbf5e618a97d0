// Package dialogue turns decoded event-stream frames into typed dialogue
// events and folds them into per-turn messages.
package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/sse"
)

// UnknownLLM is the model id used when a token event does not name one.
const UnknownLLM int64 = 0

var (
	// ErrMalformedFrame is returned for frames whose payload is not valid JSON.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEventType is returned for frames with an unrecognized type tag.
	ErrUnknownEventType = errors.New("unknown event type")
)

// EventType is the wire tag of a dialogue event.
type EventType string

const (
	TypeDialogueStart     EventType = "dialogue-start"
	TypeCharacterStart    EventType = "character-start"
	TypeToken             EventType = "token"
	TypeCharacterComplete EventType = "character-complete"
	TypeDialogueComplete  EventType = "dialogue-complete"
	TypeError             EventType = "error"
)

// Event is one of DialogueStart, CharacterStart, Token, CharacterComplete,
// DialogueComplete or ErrorEvent. The set is closed.
type Event interface {
	Type() EventType
	isEvent()
}

// DialogueStart opens a dialogue.
type DialogueStart struct {
	DialogueID int64                     `json:"dialogue_id"`
	Configs    []model.ParticipantConfig `json:"character_configs"`
	TurnCount  int                       `json:"turn_count"`
}

// CharacterStart opens a participant's turn.
type CharacterStart struct {
	Config model.ParticipantConfig `json:"character_config"`
	ID     string                  `json:"id"`
}

// Token carries a text fragment of the current turn.
type Token struct {
	Config model.ParticipantConfig `json:"character_config"`
	Text   string                  `json:"token"`
	ID     string                  `json:"id"`
}

// CharacterComplete closes a participant's turn.
type CharacterComplete struct {
	CharacterID    int64  `json:"character_id"`
	TokenCount     int    `json:"token_count"`
	SequenceNumber int    `json:"message_sequence_number,omitempty"`
	ID             string `json:"id"`
}

// DialogueComplete closes the dialogue.
type DialogueComplete struct {
	Status    string `json:"status"`
	TurnCount int    `json:"turn_count"`
	ID        string `json:"id"`
}

// ErrorEvent is an in-band error reported by the backend.
type ErrorEvent struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	ID          string `json:"id"`
}

func (DialogueStart) Type() EventType     { return TypeDialogueStart }
func (CharacterStart) Type() EventType    { return TypeCharacterStart }
func (Token) Type() EventType             { return TypeToken }
func (CharacterComplete) Type() EventType { return TypeCharacterComplete }
func (DialogueComplete) Type() EventType  { return TypeDialogueComplete }
func (ErrorEvent) Type() EventType        { return TypeError }

func (DialogueStart) isEvent()     {}
func (CharacterStart) isEvent()    {}
func (Token) isEvent()             {}
func (CharacterComplete) isEvent() {}
func (DialogueComplete) isEvent()  {}
func (ErrorEvent) isEvent()        {}

// tokenPayload accepts both the flat and the nested participant shape.
type tokenPayload struct {
	CharacterID *int64                   `json:"character_id"`
	LLMID       *int64                   `json:"llm_id"`
	Config      *model.ParticipantConfig `json:"character_config"`
	Token       string                   `json:"token"`
	ID          string                   `json:"id"`
}

// Decode maps a frame to its typed event. The type tag comes from the
// frame's event field, or from the payload's "type" field for bare data
// frames.
func Decode(f sse.Frame) (Event, error) {
	data := []byte(f.Data)

	tag := f.Event
	if tag == "" {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		tag = probe.Type
	}

	var (
		ev  Event
		err error
	)
	switch EventType(tag) {
	case TypeDialogueStart:
		var e DialogueStart
		err = json.Unmarshal(data, &e)
		if e.Configs == nil {
			e.Configs = []model.ParticipantConfig{}
		}
		ev = e
	case TypeCharacterStart:
		var e CharacterStart
		err = json.Unmarshal(data, &e)
		e.ID = orFrameID(e.ID, f)
		ev = e
	case TypeToken:
		var p tokenPayload
		err = json.Unmarshal(data, &p)
		ev = p.event(f)
	case TypeCharacterComplete:
		var e CharacterComplete
		err = json.Unmarshal(data, &e)
		e.ID = orFrameID(e.ID, f)
		ev = e
	case TypeDialogueComplete:
		var e DialogueComplete
		err = json.Unmarshal(data, &e)
		if e.Status == "" {
			e.Status = "completed"
		}
		e.ID = orFrameID(e.ID, f)
		ev = e
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		e.ID = orFrameID(e.ID, f)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, tag, err)
	}
	return ev, nil
}

func (p tokenPayload) event(f sse.Frame) Token {
	t := Token{Text: p.Token, ID: orFrameID(p.ID, f)}
	if p.Config != nil {
		t.Config = *p.Config
	}
	if p.CharacterID != nil {
		t.Config.CharacterID = *p.CharacterID
	}
	switch {
	case p.LLMID != nil:
		t.Config.LLMID = *p.LLMID
	case p.Config == nil:
		t.Config.LLMID = UnknownLLM
	}
	return t
}

func orFrameID(id string, f sse.Frame) string {
	if id != "" {
		return id
	}
	return f.ID
}
