package semantic

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Language models are asked for raw JSON but routinely wrap it in code
// fences, prepend prose, or leave trailing commas. The patterns are
// compiled once; parsing runs on every classification call.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json)?\\s*\n?([\\s\\S]*?)\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// parseModelJSON decodes a model response into T, trying progressively
// more forgiving strategies: direct parse, fence removal, trailing-comma
// cleanup, and finally extracting the outermost JSON object from mixed
// prose. A failure is reported as an error, never a panic; callers
// degrade to the needs-review fallback.
func parseModelJSON[T any](text string) (T, error) {
	var zero T
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("empty model response")
	}

	if v, err := tryParse[T](trimmed); err == nil {
		return v, nil
	}

	cleaned := strings.TrimSpace(codeFenceRegex.ReplaceAllString(trimmed, "$1"))
	if cleaned != trimmed {
		if v, err := tryParse[T](cleaned); err == nil {
			return v, nil
		}
	}

	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	if v, err := tryParse[T](cleaned); err == nil {
		return v, nil
	}

	if extracted := objectRegex.FindString(cleaned); extracted != "" {
		if v, err := tryParse[T](extracted); err == nil {
			return v, nil
		}
	}

	slog.Debug("model response unparseable", "preview", preview(text, 120))
	return zero, fmt.Errorf("no parseable JSON in model response")
}

func tryParse[T any](text string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(text), &v)
	return v, err
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
