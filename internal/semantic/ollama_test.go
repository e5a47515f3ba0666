package semantic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaServer(t *testing.T, installed []string, probeCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			probeCalls.Add(1)
			models := make([]map[string]string, len(installed))
			for i, name := range installed {
				models[i] = map[string]string{"name": name}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
		case "/api/generate":
			var req struct {
				Model  string `json:"model"`
				Stream bool   `json:"stream"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			assert.False(t, req.Stream, "generation must be non-streaming")
			_ = json.NewEncoder(w).Encode(map[string]string{"response": `{"items": []}`})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaAvailableCachesProbe(t *testing.T) {
	var probeCalls atomic.Int32
	srv := ollamaServer(t, []string{"llama3.2:3b"}, &probeCalls)

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2:3b"})
	ctx := context.Background()

	assert.True(t, g.Available(ctx))
	assert.True(t, g.Available(ctx))
	assert.Equal(t, int32(1), probeCalls.Load(), "probe result must be cached")

	g.Reset()
	assert.True(t, g.Available(ctx))
	assert.Equal(t, int32(2), probeCalls.Load(), "Reset must force a fresh probe")
}

func TestOllamaAvailableModelNotInstalled(t *testing.T) {
	var probeCalls atomic.Int32
	srv := ollamaServer(t, []string{"mistral:7b"}, &probeCalls)

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2:3b"})
	assert.False(t, g.Available(context.Background()),
		"a reachable endpoint without the configured model is unavailable")
}

func TestOllamaAvailableTagPrefixMatch(t *testing.T) {
	var probeCalls atomic.Int32
	srv := ollamaServer(t, []string{"llama3.2:latest"}, &probeCalls)

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2"})
	assert.True(t, g.Available(context.Background()))
}

func TestOllamaAvailableServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2:3b"})
	assert.False(t, g.Available(context.Background()))
}

func TestOllamaGenerate(t *testing.T) {
	var probeCalls atomic.Int32
	srv := ollamaServer(t, []string{"llama3.2:3b"}, &probeCalls)

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2:3b"})
	out, err := g.Generate(context.Background(), "classify this thread")
	require.NoError(t, err)
	assert.Equal(t, `{"items": []}`, out)
}

func TestOllamaGenerateErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2:3b"})
	_, err := g.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestOllamaConfigDefaults(t *testing.T) {
	g := NewOllamaGenerator(OllamaConfig{})
	assert.Equal(t, DefaultOllamaURL, g.cfg.BaseURL)
	assert.Equal(t, DefaultOllamaModel, g.cfg.Model)
	assert.Equal(t, 2048, g.cfg.NumPredict)
}
