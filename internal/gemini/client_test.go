package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replyWith(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]any{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
}

func TestGenerate(t *testing.T) {
	var gotBody generateRequest
	var gotPath, gotKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(replyWith(`{"title":"T"}`))
	}))
	defer server.Close()

	c := NewClient("test-key", WithModel("gemini-test"), WithBaseURL(server.URL+"/"))
	out, err := c.Generate(context.Background(), Request{
		Prompt:            "format this",
		SystemInstruction: "you are a formatter",
		JSON:              true,
		MaxOutputTokens:   8192,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"title":"T"}`, out)
	assert.Equal(t, "/v1beta/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "format this", gotBody.Contents[0].Parts[0].Text)
	require.NotNil(t, gotBody.SystemInstruction)
	assert.Equal(t, "you are a formatter", gotBody.SystemInstruction.Parts[0].Text)
	require.NotNil(t, gotBody.GenerationConfig)
	assert.Equal(t, "application/json", gotBody.GenerationConfig.ResponseMIMEType)
	assert.Equal(t, 8192, gotBody.GenerationConfig.MaxOutputTokens)
}

func TestGenerate_JoinsParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "a"}, {"text": "b"}}}},
			},
		})
	}))
	defer server.Close()

	out, err := NewClient("k", WithBaseURL(server.URL)).Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestGenerate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer server.Close()

	_, err := NewClient("", WithBaseURL(server.URL)).Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestGenerate_StatusWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewClient("k", WithBaseURL(server.URL)).Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestGenerate_NoCandidates(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", `{"candidates":[]}`, "no candidates"},
		{"blocked", `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`, "SAFETY"},
		{"empty parts", `{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`, "MAX_TOKENS"},
		{"not json", `<html>`, "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient("k", WithBaseURL(server.URL)).Generate(context.Background(), Request{Prompt: "p"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGenerate_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient("k", WithBaseURL(server.URL)).Generate(ctx, Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "context deadline exceeded"))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("k", WithModel(""), WithBaseURL(""), WithHTTPClient(nil))
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.NotNil(t, c.httpClient)
}
