// Package roster loads the characters and language models a scene can use
// and resolves participant names for the dialogue reducer.
package roster

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/backend"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/pkg/logger"
)

const (
	charactersPath = "/api/characters"
	llmsPath       = "/api/llms"
	pageSize       = 50
	// maxPages bounds pagination against a misbehaving backend.
	maxPages = 100
)

type characterPage struct {
	Content       []model.Character `json:"content"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int64             `json:"total_elements"`
	TotalPages    int               `json:"total_pages"`
}

// Client reads roster data from the backend.
type Client struct {
	backend *backend.Client
	logger  *logger.Logger
}

// NewClient creates a roster client.
func NewClient(b *backend.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{backend: b, logger: log.Named("roster")}
}

// Characters returns every character visible to the session, global ones
// included, following pagination to the last page. Relative avatar URLs are
// made absolute.
func (c *Client) Characters(ctx context.Context) ([]model.Character, error) {
	var all []model.Character
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("includeGlobal", "true")
		q.Set("page", strconv.Itoa(page))
		q.Set("size", strconv.Itoa(pageSize))

		var p characterPage
		if err := c.backend.GetJSON(ctx, charactersPath+"?"+q.Encode(), &p); err != nil {
			return nil, fmt.Errorf("failed to list characters (page %d): %w", page, err)
		}
		for _, ch := range p.Content {
			ch.AvatarURL = c.backend.ResolveURL(ch.AvatarURL)
			all = append(all, ch)
		}
		if page+1 >= p.TotalPages || len(p.Content) == 0 {
			break
		}
	}

	c.logger.Debug("loaded characters", zap.Int("count", len(all)))
	return all, nil
}

// LLMs returns the language models available to the session.
func (c *Client) LLMs(ctx context.Context) ([]model.LLM, error) {
	var llms []model.LLM
	if err := c.backend.GetJSON(ctx, llmsPath, &llms); err != nil {
		return nil, fmt.Errorf("failed to list llms: %w", err)
	}
	return llms, nil
}

// Load fetches both characters and models.
func (c *Client) Load(ctx context.Context) (*Roster, error) {
	chars, err := c.Characters(ctx)
	if err != nil {
		return nil, err
	}
	llms, err := c.LLMs(ctx)
	if err != nil {
		return nil, err
	}
	return New(chars, llms), nil
}

// Roster is an immutable index of characters and models. It is safe for
// concurrent use.
type Roster struct {
	characters []model.Character
	llms       []model.LLM

	once   sync.Once
	byID   map[int64]model.Character
	llmIDs map[int64]model.LLM
}

// New builds a roster from loaded lists.
func New(characters []model.Character, llms []model.LLM) *Roster {
	return &Roster{characters: characters, llms: llms}
}

func (r *Roster) index() {
	r.once.Do(func() {
		r.byID = make(map[int64]model.Character, len(r.characters))
		for _, c := range r.characters {
			r.byID[c.ID] = c
		}
		r.llmIDs = make(map[int64]model.LLM, len(r.llms))
		for _, l := range r.llms {
			r.llmIDs[l.ID] = l
		}
	})
}

// Lookup returns a character's display name and avatar URL. The avatar URL
// is empty when the character has none.
func (r *Roster) Lookup(id int64) (string, string, bool) {
	if r == nil {
		return "", "", false
	}
	r.index()
	c, ok := r.byID[id]
	if !ok {
		return "", "", false
	}
	if !c.HasAvatar {
		return c.Name, "", true
	}
	return c.Name, c.AvatarURL, true
}

// LLM returns a language model by id.
func (r *Roster) LLM(id int64) (model.LLM, bool) {
	if r == nil {
		return model.LLM{}, false
	}
	r.index()
	l, ok := r.llmIDs[id]
	return l, ok
}

// Characters returns the loaded characters.
func (r *Roster) Characters() []model.Character {
	return append([]model.Character{}, r.characters...)
}

// LLMs returns the loaded language models.
func (r *Roster) LLMs() []model.LLM {
	return append([]model.LLM{}, r.llms...)
}
