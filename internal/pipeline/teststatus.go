package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relgate/relgate/internal/rules"
	"github.com/relgate/relgate/internal/seeds"
	"github.com/relgate/relgate/internal/threads"
	"github.com/relgate/relgate/internal/types"
)

// testQueries is the query battery for the test-status pass. The
// automated test bot posts failure summaries; humans reply in thread.
var testQueries = []string{
	"failed",
	"test failure",
	"failing tests",
	"e2e",
}

var (
	// testNameRegex matches test identifiers in bot failure posts:
	// spec/test files and FAILED: markers.
	testNameRegex = regexp.MustCompile(`(?m)[\w./-]+\.(?:spec|test|e2e)\.[a-z]+|FAILED:?\s+([\w./-]+)`)

	failureMarkerRegex = regexp.MustCompile(`(?i)(:x:|❌|✗|\bfail(ed|ing|ures?)?\b)`)

	flakyRegex         = regexp.MustCompile(`(?i)\bflaky\b|\bflake\b`)
	investigatingRegex = regexp.MustCompile(`(?i)\b(looking|investigating|checking)\b`)
)

// RunTests executes the test-status classification pass: find the test
// bot's failure posts in the window, expand their threads, and produce
// one verdict per failing test from the human replies, with the
// semantic classifier breaking ties the rules cannot.
func (p *Pipeline) RunTests(ctx context.Context, cfg types.DetectionConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection config: %w", err)
	}

	runID := uuid.NewString()
	start := time.Now()
	slog.Info("test-status run starting", "run", runID, "channel", cfg.Channel)

	collected, err := seeds.NewCollector(p.source).WithQueries(testQueries).Collect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("collecting: %w", err)
	}

	var botSeeds []types.Message
	for _, m := range collected.Seeds {
		if m.IsBot && failureMarkerRegex.MatchString(m.Text) {
			botSeeds = append(botSeeds, m)
		}
	}

	contexts := threads.NewResolver(p.source).ResolveAll(ctx, limitSeeds(botSeeds, cfg.MaxThreads))

	results := make(map[string]types.ClassificationVerdict)
	for i := range contexts {
		for name, v := range p.classifyTestThread(ctx, &contexts[i]) {
			// A verdict from a later bot post wins only if the earlier
			// one left the test unresolved; resolved tests stay
			// resolved.
			if prev, ok := results[name]; ok && !prev.Status.Actionable() {
				continue
			}
			results[name] = v
		}
	}

	res := &Result{
		RunID:       runID,
		TestResults: results,
		Partial:     collected.Partial,
		Stage:       StageDone,
		Duration:    time.Since(start),
	}
	slog.Info("test-status run complete", "run", runID,
		"tests", len(results), "partial", res.Partial, "duration", res.Duration)
	return res, nil
}

// classifyTestThread produces verdicts for every failing test named in
// one bot post's thread.
func (p *Pipeline) classifyTestThread(ctx context.Context, tc *types.ThreadContext) map[string]types.ClassificationVerdict {
	tests := ExtractTestNames(tc.Root.Text)
	if len(tests) == 0 {
		return nil
	}

	verdicts := make(map[string]types.ClassificationVerdict, len(tests))
	var ambiguous []string
	for _, name := range tests {
		if v, ok := heuristicTestVerdict(name, tc.Replies); ok {
			verdicts[name] = v
			continue
		}
		ambiguous = append(ambiguous, name)
	}

	if len(ambiguous) == 0 {
		return verdicts
	}

	// The rules found no clear statement about these tests; the model
	// gets one shot, and a no-opinion result leaves them needing
	// attention, which is the safe default for a failing test.
	if p.classifier != nil {
		for name, v := range p.classifier.Classify(ctx, *tc, ambiguous) {
			if v.UsedSemanticModel && v.Confidence < p.classifier.ConfidenceFloor {
				v = types.NeedsReviewVerdict(name)
			}
			verdicts[name] = v
		}
	} else {
		for _, name := range ambiguous {
			verdicts[name] = types.NeedsReviewVerdict(name)
		}
	}
	return verdicts
}

// heuristicTestVerdict scans human replies for a clear statement about
// one test. A reply counts when it names the test (or its normalized
// stem) and carries resolution or flakiness language.
func heuristicTestVerdict(name string, replies []types.Message) (types.ClassificationVerdict, bool) {
	stem := strings.ToLower(strings.TrimSuffix(name, ".ts"))
	if i := strings.LastIndexByte(stem, '/'); i >= 0 {
		stem = stem[i+1:]
	}
	if i := strings.IndexByte(stem, '.'); i > 0 {
		stem = stem[:i]
	}

	for n := len(replies) - 1; n >= 0; n-- {
		text := replies[n].Text
		lower := strings.ToLower(text)
		if !strings.Contains(lower, stem) && !strings.Contains(lower, strings.ToLower(name)) {
			continue
		}
		switch {
		case flakyRegex.MatchString(text):
			return verdict(name, types.StatusFlaky, 85, text), true
		case rules.HasResolutionIndicators(text):
			return verdict(name, types.StatusResolved, 85, text), true
		case rules.ExtractTickets(text) != nil:
			return verdict(name, types.StatusTracked, 75, text), true
		case investigatingRegex.MatchString(text):
			return verdict(name, types.StatusInvestigating, 70, text), true
		}
	}
	return types.ClassificationVerdict{}, false
}

func verdict(name string, status types.VerdictStatus, confidence int, reasoning string) types.ClassificationVerdict {
	return types.ClassificationVerdict{
		ItemID:            name,
		Status:            status,
		Confidence:        confidence,
		Reasoning:         reasoning,
		UsedSemanticModel: false,
	}
}

// ExtractTestNames pulls test identifiers out of a bot failure post,
// preserving first-appearance order.
func ExtractTestNames(text string) []string {
	if text == "" {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, m := range testNameRegex.FindAllStringSubmatch(text, -1) {
		name := m[0]
		if m[1] != "" {
			name = m[1]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
