package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultOllamaURL is the conventional local model endpoint.
	DefaultOllamaURL = "http://127.0.0.1:11434"

	// DefaultOllamaModel is used when no model is configured.
	DefaultOllamaModel = "llama3.2:3b"

	// probeTimeout bounds the capability probe. A local endpoint that
	// cannot list its models within this window is treated as down.
	probeTimeout = 5 * time.Second

	// generateTimeout bounds a single generation call. A model that
	// hangs past this resolves to the same fallback as an explicit
	// error; callers never distinguish the two.
	generateTimeout = 60 * time.Second
)

// OllamaConfig configures the local model endpoint client.
type OllamaConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	NumPredict  int     `yaml:"num_predict" mapstructure:"num_predict"`
}

// DefaultOllamaConfig returns the default local endpoint configuration.
// Temperature leans deterministic: classification wants repeatable
// verdicts, not creative writing.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:     DefaultOllamaURL,
		Model:       DefaultOllamaModel,
		Temperature: 0.1,
		NumPredict:  2048,
	}
}

// OllamaGenerator talks to an Ollama-style local model endpoint:
// GET /api/tags to probe installed models, POST /api/generate for
// completions.
type OllamaGenerator struct {
	cfg    OllamaConfig
	client *http.Client

	probeOnce sync.Once
	probeMu   sync.Mutex
	available bool
}

// NewOllamaGenerator returns a generator for the configured endpoint.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.NumPredict == 0 {
		cfg.NumPredict = 2048
	}
	return &OllamaGenerator{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Available probes GET /api/tags once and caches the result for the
// process lifetime. The probe asks whether the configured model is
// installed, not merely whether the server answers.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	g.probeOnce.Do(func() {
		g.probeMu.Lock()
		defer g.probeMu.Unlock()
		g.available = g.probe(ctx)
	})
	g.probeMu.Lock()
	defer g.probeMu.Unlock()
	return g.available
}

// Reset clears the cached probe result.
func (g *OllamaGenerator) Reset() {
	g.probeMu.Lock()
	defer g.probeMu.Unlock()
	g.probeOnce = sync.Once{}
	g.available = false
}

func (g *OllamaGenerator) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		slog.Debug("model endpoint probe failed", "url", g.cfg.BaseURL, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if m.Name == g.cfg.Model || strings.HasPrefix(m.Name, g.cfg.Model+":") {
			slog.Debug("model endpoint available", "model", m.Name)
			return true
		}
	}
	slog.Warn("model endpoint up but configured model not installed",
		"model", g.cfg.Model, "installed", len(tags.Models))
	return false
}

// Generate posts a non-streaming completion request with the hard
// generation deadline.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"model":  g.cfg.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": g.cfg.Temperature,
			"num_predict": g.cfg.NumPredict,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model generate call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("model generate returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode generate response: %w", err)
	}
	return out.Response, nil
}

var _ Generator = (*OllamaGenerator)(nil)
