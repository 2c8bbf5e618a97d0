package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailogi/scene-client/internal/backend"
	"github.com/dailogi/scene-client/internal/dialogue"
)

var _ dialogue.Roster = (*Roster)(nil)

func newBackend(t *testing.T, pages int) (*httptest.Server, *[]string) {
	t.Helper()
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/characters":
			queries = append(queries, r.URL.RawQuery)
			var page int
			fmt.Sscan(r.URL.Query().Get("page"), &page)
			json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]any{{
					"id":         page + 1,
					"name":       fmt.Sprintf("Character %c", 'A'+page),
					"has_avatar": page == 0,
					"avatar_url": fmt.Sprintf("/api/characters/%d/avatar", page+1),
					"is_global":  true,
				}},
				"page":           page,
				"size":           50,
				"total_elements": pages,
				"total_pages":    pages,
			})
		case "/api/llms":
			w.Write([]byte(`[{"id":7,"name":"GPT","openrouter_identifier":"openai/gpt-4o"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &queries
}

func TestCharactersFollowsPages(t *testing.T) {
	srv, queries := newBackend(t, 3)
	c := NewClient(backend.NewClient(srv.URL, time.Second), nil)

	chars, err := c.Characters(context.Background())
	require.NoError(t, err)

	require.Len(t, chars, 3)
	assert.Equal(t, "Character C", chars[2].Name)
	assert.Equal(t, srv.URL+"/api/characters/1/avatar", chars[0].AvatarURL)
	assert.Equal(t, []string{
		"includeGlobal=true&page=0&size=50",
		"includeGlobal=true&page=1&size=50",
		"includeGlobal=true&page=2&size=50",
	}, *queries)
}

func TestLoadAndLookup(t *testing.T) {
	srv, _ := newBackend(t, 2)
	r, err := NewClient(backend.NewClient(srv.URL, time.Second), nil).Load(context.Background())
	require.NoError(t, err)

	name, avatar, ok := r.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, "Character A", name)
	assert.Equal(t, srv.URL+"/api/characters/1/avatar", avatar)

	name, avatar, ok = r.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, "Character B", name)
	assert.Empty(t, avatar)

	_, _, ok = r.Lookup(99)
	assert.False(t, ok)

	llm, ok := r.LLM(7)
	assert.True(t, ok)
	assert.Equal(t, "openai/gpt-4o", llm.OpenRouterIdentifier)
}

func TestCharactersPropagatesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Unauthorized","code":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	_, err := NewClient(backend.NewClient(srv.URL, time.Second), nil).Characters(context.Background())

	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestNilRosterLookup(t *testing.T) {
	var r *Roster
	_, _, ok := r.Lookup(1)
	assert.False(t, ok)
}
