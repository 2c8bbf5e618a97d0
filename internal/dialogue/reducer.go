package dialogue

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/pkg/logger"
	"github.com/dailogi/scene-client/pkg/metrics"
)

// Roster resolves display details for a participant.
type Roster interface {
	Lookup(characterID int64) (name, avatarURL string, ok bool)
}

// Notifier surfaces user-visible notifications.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Notify calls f(message).
func (f NotifierFunc) Notify(message string) { f(message) }

// Status is the non-message state recorded by the reducer.
type Status struct {
	DialogueID int64
	Started    bool
	Completed  *DialogueComplete
	LastError  *ErrorEvent
	Halted     bool
	Dropped    int
}

// Reducer folds dialogue events into an ordered list of messages, one per
// turn, in the order their character-start events arrived. It is not safe
// for concurrent use.
type Reducer struct {
	roster   Roster
	notifier Notifier
	logger   *logger.Logger

	messages []model.Message
	status   Status
}

// NewReducer creates a reducer. roster and notifier may be nil.
func NewReducer(roster Roster, notifier Notifier, log *logger.Logger) *Reducer {
	if log == nil {
		log = logger.Nop()
	}
	return &Reducer{
		roster:   roster,
		notifier: notifier,
		logger:   log,
	}
}

// Apply folds ev into the reducer state and reports whether anything
// changed. After a non-recoverable error event every further event is
// ignored.
func (r *Reducer) Apply(ev Event) bool {
	if r.status.Halted {
		r.drop("halted", ev, 0)
		return false
	}

	switch e := ev.(type) {
	case DialogueStart:
		r.status.DialogueID = e.DialogueID
		r.status.Started = true
		return true

	case CharacterStart:
		name, avatar := r.display(e.Config.CharacterID)
		r.messages = append(r.messages, model.Message{
			CharacterID: e.Config.CharacterID,
			Name:        name,
			AvatarURL:   avatar,
		})
		return true

	case Token:
		i := r.openTurn(e.Config.CharacterID)
		if i < 0 {
			r.drop("no_open_turn", ev, e.Config.CharacterID)
			return false
		}
		r.messages[i].Content += e.Text
		metrics.TokensTotal.Inc()
		return true

	case CharacterComplete:
		i := r.openTurn(e.CharacterID)
		if i < 0 {
			r.logger.Debug("character-complete without open turn",
				zap.Int64("character_id", e.CharacterID),
			)
			return false
		}
		r.messages[i].Complete = true
		return true

	case DialogueComplete:
		r.status.Completed = &e
		return true

	case ErrorEvent:
		r.status.LastError = &e
		if !e.Recoverable {
			r.status.Halted = true
		}
		if r.notifier != nil {
			r.notifier.Notify(e.Message)
		}
		return true

	default:
		r.drop("unknown_event", ev, 0)
		return false
	}
}

// Messages returns a copy of the current messages.
func (r *Reducer) Messages() []model.Message {
	out := make([]model.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Status returns the recorded dialogue status.
func (r *Reducer) Status() Status {
	return r.status
}

// Done reports whether the dialogue completed or was halted by an error.
func (r *Reducer) Done() bool {
	return r.status.Completed != nil || r.status.Halted
}

// Reset discards all messages and status.
func (r *Reducer) Reset() {
	r.messages = nil
	r.status = Status{}
}

// openTurn returns the index of the most recent incomplete message of
// characterID, or -1.
func (r *Reducer) openTurn(characterID int64) int {
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if m.CharacterID == characterID && !m.Complete {
			return i
		}
	}
	return -1
}

func (r *Reducer) display(characterID int64) (string, string) {
	if r.roster != nil {
		if name, avatar, ok := r.roster.Lookup(characterID); ok {
			return name, avatar
		}
	}
	return fmt.Sprintf("Character %d", characterID), ""
}

func (r *Reducer) drop(reason string, ev Event, characterID int64) {
	r.status.Dropped++
	metrics.RecordDrop(reason)

	fields := []zap.Field{zap.String("reason", reason)}
	if ev != nil {
		fields = append(fields, zap.String("event", string(ev.Type())))
	}
	if characterID != 0 {
		fields = append(fields, zap.Int64("character_id", characterID))
	}
	r.logger.Warn("dropping dialogue event", fields...)
}
