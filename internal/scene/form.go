// Package scene validates new-scene input and turns backend failures into
// user-facing messages.
package scene

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/dailogi/scene-client/internal/model"
)

const (
	// MaxDescriptionLength is the backend's limit on scene descriptions, in characters.
	MaxDescriptionLength = 500
	// SlotCount is the number of participant slots on the form.
	SlotCount = 3
	// MinParticipants is the smallest cast the backend accepts.
	MinParticipants = 2
	// DefaultLength is the number of turns requested when none is given.
	DefaultLength = 10
	// MinLength and MaxLength bound the requested number of turns.
	MinLength = 1
	MaxLength = 50
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError lists every problem found on a form, keyed by field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid scene: ")
	first := true
	for _, key := range []string{"description", "configs", "length"} {
		msg, ok := e.Fields[key]
		if !ok {
			continue
		}
		if !first {
			b.WriteString("; ")
		}
		b.WriteString(msg)
		first = false
	}
	return b.String()
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Slot is one participant slot. A nil id means "not chosen".
type Slot struct {
	CharacterID *int64
	LLMID       *int64
}

// Filled reports whether both the character and its model are chosen.
func (s Slot) Filled() bool {
	return s.CharacterID != nil && s.LLMID != nil
}

// Form is the new-scene input.
type Form struct {
	Description string
	Slots       [SlotCount]Slot
	// Length is the number of turns; zero means the default.
	Length int
}

// FormFromRequest fills a form from participant pairs. Pairs beyond the
// slot count are reported by Validate.
func FormFromRequest(req *model.CreateSceneRequest) (Form, error) {
	f := Form{Description: req.Description, Length: req.Length}
	if len(req.Configs) > SlotCount {
		return f, &ValidationError{Fields: map[string]string{
			"configs": "at most 3 characters can take part in a scene",
		}}
	}
	for i, c := range req.Configs {
		characterID, llmID := c.CharacterID, c.LLMID
		if characterID != 0 {
			f.Slots[i].CharacterID = &characterID
		}
		if llmID != 0 {
			f.Slots[i].LLMID = &llmID
		}
	}
	return f, nil
}

// Validate checks the form the way the scene form does before submitting.
func (f *Form) Validate() error {
	fields := make(map[string]string)

	desc := strings.TrimSpace(f.Description)
	switch {
	case desc == "":
		fields["description"] = "the scene needs a description"
	case utf8.RuneCountInString(f.Description) > MaxDescriptionLength:
		fields["description"] = "the description must not exceed 500 characters"
	}

	filled := 0
	missingModel := false
	for _, s := range f.Slots {
		if s.Filled() {
			filled++
		}
		if s.CharacterID != nil && s.LLMID == nil {
			missingModel = true
		}
	}
	switch {
	case missingModel:
		fields["configs"] = "every chosen character needs a language model"
	case filled < MinParticipants:
		fields["configs"] = "a dialogue takes two: fill at least two slots"
	}

	if f.Length != 0 && (f.Length < MinLength || f.Length > MaxLength) {
		fields["length"] = "the length must be between 1 and 50 turns"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Request validates the form and builds the backend stream request from the
// filled slots, in slot order. defaultLength is used when the form leaves
// the length unset.
func (f *Form) Request(defaultLength int) (*model.StartStreamRequest, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	length := f.Length
	if length == 0 {
		length = defaultLength
	}
	if length < MinLength || length > MaxLength {
		length = DefaultLength
	}

	req := &model.StartStreamRequest{
		SceneDescription: strings.TrimSpace(f.Description),
		Length:           length,
	}
	for _, s := range f.Slots {
		if s.Filled() {
			req.CharacterConfigs = append(req.CharacterConfigs, model.ParticipantConfig{
				CharacterID: *s.CharacterID,
				LLMID:       *s.LLMID,
			})
		}
	}
	return req, nil
}
