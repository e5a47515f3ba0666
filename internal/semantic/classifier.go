package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/relgate/relgate/internal/types"
)

// Classifier asks a language model for per-item verdicts over a thread.
// A nil or unavailable generator is not an error; it means "no opinion"
// and every item gets the needs-review fallback.
type Classifier struct {
	gen Generator

	// ConfidenceFloor is the minimum confidence (0-100) at which a
	// semantic verdict is allowed to override a heuristic one. The
	// floor is enforced by the caller; the classifier just reports it.
	ConfidenceFloor int
}

// NewClassifier wraps a generator. gen may be nil, which behaves as a
// permanently unavailable model.
func NewClassifier(gen Generator) *Classifier {
	return &Classifier{gen: gen, ConfidenceFloor: 60}
}

// modelItem is the per-item shape the model is asked to return.
type modelItem struct {
	ID         *int   `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// modelResponse is the top-level shape. The model is told to use
// "items"; "tests" is accepted because smaller models echo the domain
// vocabulary from the thread.
type modelResponse struct {
	Items []modelItem `json:"items"`
	Tests []modelItem `json:"tests"`
}

func (r *modelResponse) all() []modelItem {
	if len(r.Items) > 0 {
		return r.Items
	}
	return r.Tests
}

// Classify produces one verdict per ambiguous item. It always returns a
// complete map: when the model is unavailable, times out, errors, or
// returns unparseable output, every item carries the needs-review
// fallback with UsedSemanticModel=false. The generation endpoint is
// never called when the availability probe reports down.
func (c *Classifier) Classify(ctx context.Context, thread types.ThreadContext, items []string) map[string]types.ClassificationVerdict {
	verdicts := fallbackVerdicts(items)
	if len(items) == 0 {
		return verdicts
	}
	if c.gen == nil || !c.gen.Available(ctx) {
		slog.Debug("semantic model unavailable, returning needs-review verdicts", "items", len(items))
		return verdicts
	}

	start := time.Now()
	response, err := c.gen.Generate(ctx, buildPrompt(thread, items))
	if err != nil {
		// Timeouts and errors resolve identically: the model has no
		// opinion and the heuristic layer stands.
		slog.Warn("semantic classification failed", "error", err, "duration", time.Since(start))
		return verdicts
	}

	parsed, err := parseModelJSON[modelResponse](response)
	if err != nil {
		slog.Warn("semantic response unparseable", "error", err)
		return verdicts
	}

	matched := 0
	for _, item := range parsed.all() {
		key, ok := matchItem(item, items)
		if !ok {
			slog.Debug("semantic verdict for unknown item", "name", item.Name)
			continue
		}
		confidence := item.Confidence
		if confidence < 0 {
			confidence = 0
		} else if confidence > 100 {
			confidence = 100
		}
		verdicts[key] = types.ClassificationVerdict{
			ItemID:            key,
			Status:            types.NormalizeVerdictStatus(item.Status),
			Confidence:        confidence,
			Reasoning:         item.Reasoning,
			UsedSemanticModel: true,
		}
		matched++
	}
	slog.Debug("semantic classification complete",
		"items", len(items), "matched", matched, "duration", time.Since(start))
	return verdicts
}

// matchItem resolves which submitted item a model verdict refers to.
// Numeric index into the submitted list is primary; models are far more
// reliable about echoing numbers than names. Name matching is the
// fallback: normalized exact match first, then substring either way.
func matchItem(item modelItem, items []string) (string, bool) {
	if item.ID != nil {
		idx := *item.ID - 1 // items are presented 1-based
		if idx >= 0 && idx < len(items) {
			return items[idx], true
		}
	}
	if item.Name == "" {
		return "", false
	}
	want := normalizeItemName(item.Name)
	for _, candidate := range items {
		if normalizeItemName(candidate) == want {
			return candidate, true
		}
	}
	for _, candidate := range items {
		got := normalizeItemName(candidate)
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return candidate, true
		}
	}
	return "", false
}

// normalizeItemName strips paths and extensions and lowercases, so
// "tests/LoginFlow.spec.ts" matches "loginflow".
func normalizeItemName(name string) string {
	base := path.Base(strings.TrimSpace(name))
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return strings.ToLower(base)
}

// buildPrompt renders the thread with bot and human turns distinguished
// and the ambiguous items as a numbered list.
func buildPrompt(thread types.ThreadContext, items []string) string {
	var sb strings.Builder
	sb.WriteString("You are analyzing a release-channel conversation to decide the current status of each listed item.\n\n")
	sb.WriteString("CONVERSATION:\n")
	for _, msg := range thread.Messages() {
		speaker := "HUMAN"
		if msg.IsBot {
			speaker = "BOT"
		}
		fmt.Fprintf(&sb, "[%s %s] %s\n", speaker, msg.Author, msg.Text)
	}

	sb.WriteString("\nITEMS:\n")
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item)
	}

	sb.WriteString(`
For each item, decide its status from the conversation. Allowed status
values: resolved, not_blocking, fix_in_progress, flaky, needs_attention,
investigating, tracked, still_failing, unclear.

Respond with ONLY a raw JSON object, no markdown fences:
{
  "items": [
    {"id": 1, "status": "resolved", "confidence": 90, "reasoning": "..."}
  ]
}

Rules:
1. "id" is the item number from the list above.
2. confidence is 0-100.
3. If the conversation says nothing about an item, use "unclear" with low confidence.
4. A human saying a failure is known/ticketed means "tracked", not "resolved".`)
	return sb.String()
}

// fallbackVerdicts builds the uniform needs-review map.
func fallbackVerdicts(items []string) map[string]types.ClassificationVerdict {
	verdicts := make(map[string]types.ClassificationVerdict, len(items))
	for _, item := range items {
		verdicts[item] = types.NeedsReviewVerdict(item)
	}
	return verdicts
}
