// ABOUTME: Tests for the chat completion client against an httptest server
// ABOUTME: Checks the wire request, error texts and option defaults

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"m-1","choices":[{"message":{"content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "secret", BaseURL: srv.URL + "/v1/"})
	temp := 0.1
	resp, err := c.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Temperature: &temp, JSONObject: true})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, "m-1", resp.Model)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	assert.Equal(t, map[string]string{"type": "json_object"}, got.ResponseFormat)
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}}, got.Messages)
}

func TestChatCompletion_Errors(t *testing.T) {
	_, err := NewClient(Config{}).ChatCompletion(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer failing.Close()
	_, err = NewClient(Config{APIKey: "k", BaseURL: failing.URL}).ChatCompletion(context.Background(), nil, Options{})
	assert.EqualError(t, err, "LLM API error (429): quota exceeded\n")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer empty.Close()
	_, err = NewClient(Config{APIKey: "k", BaseURL: empty.URL}).ChatCompletion(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
