package semantic

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is the cost-efficient tier; verdict
// classification is a simple structured task that does not need a
// frontier model.
const DefaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicConfig configures the cloud generator backend.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicGenerator is the cloud alternative to the local endpoint,
// behind the same Generator contract: probed once, hard deadline per
// call, failures indistinguishable from timeouts to callers.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64

	probeMu   sync.Mutex
	probed    bool
	available bool
}

// NewAnthropicGenerator builds the cloud backend. The API key falls
// back to ANTHROPIC_API_KEY; a missing key is reported at first probe,
// not at construction, so an unconfigured backend degrades instead of
// failing startup.
func NewAnthropicGenerator(cfg AnthropicConfig) *AnthropicGenerator {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 2048
	}

	var client *anthropic.Client
	if apiKey != "" {
		c := anthropic.NewClient(option.WithAPIKey(apiKey))
		client = &c
	}
	return &AnthropicGenerator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Available reports whether the backend is usable. Cached for the
// process lifetime. No network probe is made: the SDK has no cheap
// capability endpoint, so a configured key is the availability signal
// and the first Generate call surfaces real connectivity problems
// through the normal fallback path.
func (g *AnthropicGenerator) Available(_ context.Context) bool {
	g.probeMu.Lock()
	defer g.probeMu.Unlock()
	if !g.probed {
		g.available = g.client != nil
		g.probed = true
	}
	return g.available
}

// Reset clears the cached availability.
func (g *AnthropicGenerator) Reset() {
	g.probeMu.Lock()
	defer g.probeMu.Unlock()
	g.probed = false
	g.available = false
}

// Generate runs one completion with the shared generation deadline.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("anthropic backend not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

var _ Generator = (*AnthropicGenerator)(nil)
