package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoForwardsSessionToken(t *testing.T) {
	var gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	ctx := WithSessionToken(context.Background(), "tok")

	resp, err := c.Do(ctx, http.MethodPost, "/api/x", map[string]int{"a": 1}, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotType)
}

func TestDoStatusErrorParsesBackendBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Character 9 not found","code":"CHARACTER_NOT_FOUND","timestamp":"2024-02-20T15:30:45Z"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Do(context.Background(), http.MethodGet, "/api/characters/9", nil, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "CHARACTER_NOT_FOUND", se.Code())
	assert.Contains(t, se.Error(), "Character 9 not found")
}

func TestDoStatusErrorKeepsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Do(context.Background(), http.MethodGet, "/", nil, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Nil(t, se.Response)
	assert.Equal(t, "upstream exploded", se.Body)
	assert.Empty(t, se.Code())
}

func TestDoTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Do(context.Background(), http.MethodGet, "/", nil, nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, IsCanceled(err))
}

func TestDoCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL, time.Second).Do(ctx, http.MethodGet, "/", nil, nil)
	assert.True(t, IsCanceled(err))

	var te *TransportError
	assert.False(t, errors.As(err, &te))
}

func TestResolveURL(t *testing.T) {
	c := NewClient("http://backend:8080/", 0)

	assert.Equal(t, "http://backend:8080/api/characters/1/avatar", c.ResolveURL("/api/characters/1/avatar"))
	assert.Equal(t, "http://backend:8080/api/llms", c.ResolveURL("api/llms"))
	assert.Equal(t, "https://cdn/x.png", c.ResolveURL("https://cdn/x.png"))
	assert.Equal(t, "", c.ResolveURL(""))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	c := NewClient(srv.URL, time.Second)
	assert.NoError(t, c.Ping(context.Background()))

	srv.Close()
	var te *TransportError
	assert.ErrorAs(t, c.Ping(context.Background()), &te)
}
