// Package rules implements the deterministic classification layer of the
// detection pipeline: pattern tables for blocking, critical and
// resolution language, negation handling, and ticket extraction.
//
// Everything in this package is a pure function over text. The rule
// tables are data, not control flow, so a new phrase is a one-line
// change covered by the existing tests.
package rules

import (
	"regexp"
	"strings"
)

// Effect is what a matched rule contributes to classification.
type Effect int

const (
	// EffectBlocking marks text as declaring a release blocker.
	EffectBlocking Effect = iota
	// EffectContextualBlocking marks a blocking cue that only counts
	// when release context is present in the same text.
	EffectContextualBlocking
	// EffectCritical marks text as flagging a critical problem.
	EffectCritical
	// EffectResolution marks text as resolving or downgrading an
	// earlier blocking signal.
	EffectResolution
	// EffectUIException suppresses a blocking match: the word "block"
	// used as UI terminology, not release language.
	EffectUIException
	// EffectNegatedSeed disqualifies a seed message outright.
	EffectNegatedSeed
)

// Rule is one pattern with its classification effect.
type Rule struct {
	Pattern *regexp.Regexp
	Effect  Effect
	Name    string
}

// Config carries the tunable heuristic constants. The defaults were
// calibrated against real channel traffic; operators can override them
// through the top-level config file.
type Config struct {
	// NegationWindow is how many arbitrary tokens may sit between a
	// negation word and a critical cue for the negation to apply.
	NegationWindow int `yaml:"negation_window" mapstructure:"negation_window"`

	// OverridesPath optionally points at a YAML rule-overrides file,
	// applied once at startup (see Overrides).
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// DefaultConfig returns the default rule engine configuration.
func DefaultConfig() Config {
	return Config{NegationWindow: 4}
}

// Rule tables, one per classification axis. Patterns are compiled once
// at package init; compiling per call is an order of magnitude slower
// and these run over every candidate message.
var (
	blockingRules = []Rule{
		{regexp.MustCompile(`(?i)release\s+blockers?`), EffectBlocking, "release-blocker"},
		{regexp.MustCompile(`(?i)\bblockers?\b`), EffectBlocking, "blocker"},
		{regexp.MustCompile(`(?i)\bblocking\b`), EffectBlocking, "blocking"},
		{regexp.MustCompile(`(?i)\bno[\s-]?go\b`), EffectBlocking, "no-go"},
		{regexp.MustCompile(`(?i)\bhotfix(es)?\b`), EffectBlocking, "hotfix"},
		{regexp.MustCompile(`(?i)cc\s+@\w*(escalat|release|oncall)\w*`), EffectBlocking, "escalation-mention"},
		{regexp.MustCompile(`(?i)\bblocks?\b`), EffectContextualBlocking, "generic-block"},
	}

	criticalRules = []Rule{
		{regexp.MustCompile(`(?i)\bcritical\b(?:\s+(\w+))?`), EffectCritical, "critical"},
		{regexp.MustCompile(`(?i)\burgent\b`), EffectCritical, "urgent"},
		{regexp.MustCompile(`(?i)\bhigh\s+priority\b`), EffectCritical, "high-priority"},
	}

	resolutionRules = []Rule{
		{regexp.MustCompile(`(?i)\bresolved\b`), EffectResolution, "resolved"},
		{regexp.MustCompile(`(?i)\bfixed\b`), EffectResolution, "fixed"},
		{regexp.MustCompile(`(?i)\bdeployed\b`), EffectResolution, "deployed"},
		{regexp.MustCompile(`(?i)\bnot\s+blocking\b`), EffectResolution, "not-blocking"},
		{regexp.MustCompile(`(?i)\bno\s+longer\s+blocking\b`), EffectResolution, "no-longer-blocking"},
		{regexp.MustCompile(`(?i)\bnot\s+a\s+blocker\b`), EffectResolution, "not-a-blocker"},
		{regexp.MustCompile(`(?i)\bunblocked\b`), EffectResolution, "unblocked"},
	}

	// UI terminology where "block" is a noun about the product, not a
	// verb about the release.
	uiExceptionRules = []Rule{
		{regexp.MustCompile(`(?i)\b(answer|content|question|text|code|quote)\s+blocks?\b`), EffectUIException, "ui-noun-block"},
		{regexp.MustCompile(`(?i)\bblocks?\s+(dialog|editor|element|component|widget)\b`), EffectUIException, "ui-block-noun"},
		{regexp.MustCompile(`(?i)\bad[\s-]?block(er|ing)?\b`), EffectUIException, "ad-block"},
	}

	// Seed disqualifiers: cheap pre-filter applied before thread
	// expansion, not the final classification.
	negatedSeedRules = []Rule{
		{regexp.MustCompile(`(?i)\bnot\s+blocking\b`), EffectNegatedSeed, "not-blocking"},
		{regexp.MustCompile(`(?i)\bnot\s+a\s+blocker\b`), EffectNegatedSeed, "not-a-blocker"},
		{regexp.MustCompile(`(?i)\bnot\s+urgent\b`), EffectNegatedSeed, "not-urgent"},
		{regexp.MustCompile(`(?i)\bnon[\s-]?blocking\b`), EffectNegatedSeed, "non-blocking"},
		{regexp.MustCompile(`(?i)\blow\s+priority\b`), EffectNegatedSeed, "low-priority"},
		{regexp.MustCompile(`(?i)\bno\s+blockers?\b`), EffectNegatedSeed, "no-blockers"},
	}

	// Release context terms that license the generic "block"/"blocks"
	// cue. Without one of these, "blocks" is assumed to be product
	// terminology.
	releaseContextRegex = regexp.MustCompile(`(?i)\b(release|deploy(ment|ing)?|ship(ping)?|rollout|production|prod|launch|go[\s-]?live)\b`)

	// "critical path" is project-management vocabulary, not an incident.
	criticalPathRegex = regexp.MustCompile(`(?i)\bcritical\s+path\b`)

	negationWords = map[string]bool{
		"not":     true,
		"no":      true,
		"isn't":   true,
		"isnt":    true,
		"doesn't": true,
		"doesnt":  true,
		"wasn't":  true,
		"wasnt":   true,
		"never":   true,
	}

	criticalCueWords = map[string]bool{
		"critical": true,
		"urgent":   true,
	}

	hotfixCommitmentRegex = regexp.MustCompile(`(?i)\b(will|we'll|gonna|going\s+to|plan\s+to)\b[^.!?\n]{0,40}\bhotfix\b|\bhotfix\b[^.!?\n]{0,40}\b(today|tonight|tomorrow|asap|now|incoming|on\s+the\s+way)\b`)

	// Daily status-summary headers posted by the summary bot. These are
	// ingested by a separate summary path; treating one as a seed would
	// let a report classify itself as its own evidence.
	summaryHeaderRegex = regexp.MustCompile(`(?i)^\s*(:\w+:\s*)*\**\s*(daily\s+)?(release|status)\s+(readiness\s+)?(summary|report|status)\b`)

	tokenSplitRegex = regexp.MustCompile(`[^\w'-]+`)
)

// HasBlockingIndicators reports whether text contains an explicit
// blocking lexeme, a contextual cue (no-go, escalation mention, hotfix),
// or a generic block word co-occurring with release context. Empty input
// is simply false, never an error.
func HasBlockingIndicators(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range blockingRules {
		if !r.Pattern.MatchString(text) {
			continue
		}
		switch r.Effect {
		case EffectContextualBlocking:
			// "blocks"/"block" alone is too generic: it must co-occur
			// with a release/deploy/production term, and UI noun usage
			// suppresses it entirely.
			if isUIException(text) {
				continue
			}
			if releaseContextRegex.MatchString(text) {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// HasCriticalIndicators reports whether text flags a critical problem.
// A positive cue only counts when no negation applies; negation includes
// a windowed check where a negation word followed by up to
// Config.NegationWindow arbitrary tokens then the cue overrides to false.
// "critical path" never counts.
func HasCriticalIndicators(text string) bool {
	return HasCriticalIndicatorsCfg(text, DefaultConfig())
}

// HasCriticalIndicatorsCfg is HasCriticalIndicators with an explicit
// rule configuration.
func HasCriticalIndicatorsCfg(text string, cfg Config) bool {
	if text == "" {
		return false
	}
	stripped := criticalPathRegex.ReplaceAllString(text, "")
	positive := false
	for _, r := range criticalRules {
		if r.Pattern.MatchString(stripped) {
			positive = true
			break
		}
	}
	if !positive {
		return false
	}
	return !hasWindowedNegation(stripped, cfg.NegationWindow)
}

// HasResolutionIndicators reports whether text resolves or downgrades an
// earlier blocking signal.
func HasResolutionIndicators(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range resolutionRules {
		if r.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// HasHotfixCommitment reports whether text commits to shipping a hotfix,
// as opposed to merely mentioning one.
func HasHotfixCommitment(text string) bool {
	return text != "" && hotfixCommitmentRegex.MatchString(text)
}

// IsNegatedSeed reports whether a seed message disqualifies itself with
// explicit negation language. This is the cheap pre-filter from seed
// collection; reconciliation still applies the full resolution rules.
func IsNegatedSeed(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range negatedSeedRules {
		if r.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// IsStatusSummaryHeader reports whether the message is a daily
// status-summary post rather than organic discussion.
func IsStatusSummaryHeader(text string) bool {
	return text != "" && summaryHeaderRegex.MatchString(text)
}

// isUIException reports whether every block mention in the text is UI
// terminology.
func isUIException(text string) bool {
	for _, r := range uiExceptionRules {
		if r.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// hasWindowedNegation scans the token stream for a negation word
// followed by a critical cue within the window. The window counts the
// tokens between the negation and the cue, so window=0 means adjacent.
func hasWindowedNegation(text string, window int) bool {
	raw := tokenSplitRegex.Split(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	negAt := -1
	for i, tok := range tokens {
		if negationWords[tok] {
			negAt = i
			continue
		}
		if criticalCueWords[tok] && negAt >= 0 && i-negAt-1 <= window {
			return true
		}
	}
	return false
}
