// Package pipeline orchestrates the detection run: seed collection,
// thread expansion, two-tier classification, and reconciliation.
//
// The orchestrator holds no mutable state between runs; every Run gets
// its own accumulator, so concurrent invocations cannot interfere.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/relgate/relgate/internal/chat"
	"github.com/relgate/relgate/internal/reconcile"
	"github.com/relgate/relgate/internal/rules"
	"github.com/relgate/relgate/internal/seeds"
	"github.com/relgate/relgate/internal/semantic"
	"github.com/relgate/relgate/internal/threads"
	"github.com/relgate/relgate/internal/types"
)

// Stage is the orchestrator's position in the run.
type Stage int

const (
	StageIdle Stage = iota
	StageCollecting
	StageExpanding
	StageClassifying
	StageReconciling
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageCollecting:
		return "collecting"
	case StageExpanding:
		return "expanding"
	case StageClassifying:
		return "classifying"
	case StageReconciling:
		return "reconciling"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the output of one detection run.
type Result struct {
	RunID  string        `json:"run_id"`
	Issues []types.Issue `json:"issues,omitempty"`

	// TestResults maps test name to its verdict, from the test-status
	// pass. Empty when the run was issues-only.
	TestResults map[string]types.ClassificationVerdict `json:"test_results,omitempty"`

	// Partial is true when some seed searches or thread fetches failed
	// and the run proceeded on the surviving data. An empty Issues with
	// Partial=false is a clean "no issues found"; a fatal run returns
	// an error instead and must never be conflated with this.
	Partial bool `json:"partial"`

	Stage    Stage           `json:"-"`
	Stats    reconcile.Stats `json:"stats"`
	Duration time.Duration   `json:"duration"`
}

// Pipeline wires the stages together. Construct once, Run many times.
type Pipeline struct {
	source     chat.MessageSource
	classifier *semantic.Classifier
	ruleCfg    rules.Config
}

// New builds a pipeline over a message source. classifier may be nil to
// run heuristics-only.
func New(source chat.MessageSource, classifier *semantic.Classifier) *Pipeline {
	return &Pipeline{
		source:     source,
		classifier: classifier,
		ruleCfg:    rules.DefaultConfig(),
	}
}

// WithRuleConfig overrides the rule engine constants.
func (p *Pipeline) WithRuleConfig(cfg rules.Config) *Pipeline {
	p.ruleCfg = cfg
	return p
}

// run is the per-invocation accumulator. It is never shared.
type run struct {
	id      string
	cfg     types.DetectionConfig
	stage   Stage
	partial bool
}

// Run executes the issue-detection pass. Only total seed-search failure
// is fatal; every other fault degrades per item.
func (p *Pipeline) Run(ctx context.Context, cfg types.DetectionConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection config: %w", err)
	}
	if cfg.Severity == "" {
		cfg.Severity = types.FilterBoth
	}

	r := &run{id: uuid.NewString(), cfg: cfg, stage: StageIdle}
	start := time.Now()
	slog.Info("detection run starting", "run", r.id, "channel", cfg.Channel, "date", cfg.Date.Format("2006-01-02"))

	r.stage = StageCollecting
	collected, err := seeds.NewCollector(p.source).Collect(ctx, cfg)
	if err != nil {
		r.stage = StageFailed
		return nil, fmt.Errorf("collecting: %w", err)
	}
	r.partial = collected.Partial

	r.stage = StageExpanding
	contexts := threads.NewResolver(p.source).ResolveAll(ctx, limitSeeds(collected.Seeds, cfg.MaxThreads))

	r.stage = StageClassifying
	candidates := p.classifyThreads(ctx, contexts)

	r.stage = StageReconciling
	reconciled := reconcile.Reconcile(candidates)

	issues := make([]types.Issue, 0, len(reconciled.Issues))
	for _, issue := range reconciled.Issues {
		if cfg.Severity.Matches(issue.Kind) {
			issues = append(issues, issue)
		}
	}

	r.stage = StageDone
	res := &Result{
		RunID:    r.id,
		Issues:   issues,
		Partial:  r.partial,
		Stage:    StageDone,
		Stats:    reconciled.Stats,
		Duration: time.Since(start),
	}
	slog.Info("detection run complete", "run", r.id,
		"issues", len(res.Issues), "partial", res.Partial, "duration", res.Duration)
	return res, nil
}

func limitSeeds(msgs []types.Message, max int) []types.Message {
	if max > 0 && len(msgs) > max {
		return msgs[:max]
	}
	return msgs
}

// classifyThreads runs the deterministic rules over every thread and
// consults the semantic classifier for threads the rules leave
// ambiguous. This stage always completes; semantic-layer health can
// only change verdicts, never the run's fate.
func (p *Pipeline) classifyThreads(ctx context.Context, contexts []types.ThreadContext) []reconcile.Candidate {
	var candidates []reconcile.Candidate
	for i := range contexts {
		candidates = append(candidates, p.classifyThread(ctx, &contexts[i])...)
	}
	return candidates
}

// threadState tracks what the rules found while walking one thread.
type threadState struct {
	threadID  string
	hasThread bool

	// tickets maps numeric suffix to the candidate ticket, for
	// resolution statements that reference a list entry by number.
	tickets map[string]*types.TicketRef

	// freeMsgID is the message id keying the thread's free-text group,
	// set by the first ticketless blocking or critical detection.
	freeMsgID string

	blocking   bool
	resolution bool
}

func (p *Pipeline) classifyThread(ctx context.Context, tc *types.ThreadContext) []reconcile.Candidate {
	threadID := tc.Root.ThreadRootID
	if threadID == "" {
		threadID = tc.Root.ID
	}
	state := &threadState{
		threadID:  threadID,
		hasThread: tc.HasReplies(),
		tickets:   make(map[string]*types.TicketRef),
	}

	var candidates []reconcile.Candidate
	for _, msg := range tc.Messages() {
		candidates = append(candidates, p.classifyMessage(msg, state)...)
	}

	// Second tier: a thread with live blocking signals, replies, and no
	// heuristic resolution is ambiguous enough to ask the model about.
	if p.classifier != nil && state.blocking && !state.resolution && tc.HasReplies() {
		candidates = append(candidates, p.semanticResolutions(ctx, tc, state)...)
	}
	return candidates
}

// classifyMessage turns one message into zero or more candidates.
func (p *Pipeline) classifyMessage(msg types.Message, state *threadState) []reconcile.Candidate {
	text := msg.Text
	if text == "" {
		return nil
	}

	var candidates []reconcile.Candidate
	base := reconcile.Candidate{
		Text:      text,
		Timestamp: msg.Timestamp,
		MessageID: msg.ID,
		ThreadID:  state.threadID,
		HasThread: state.hasThread,
		Hotfix:    rules.HasHotfixCommitment(text),
	}

	// Explicit blocker/hotfix lists are the strongest structural signal
	// and carry per-line thread links.
	if listed := rules.ParseExplicitList(text); len(listed) > 0 {
		for i := range listed {
			ref := listed[i]
			ref.SourceMessageID = msg.ID
			state.rememberTicket(&ref)
			c := base
			c.Signal = reconcile.SignalBlocking
			c.Ticket = &ref
			candidates = append(candidates, c)
		}
		state.blocking = true
		return candidates
	}

	resolution := rules.HasResolutionIndicators(text)
	blocking := !resolution && rules.HasBlockingIndicators(text)
	critical := !resolution && !blocking && rules.HasCriticalIndicatorsCfg(text, p.ruleCfg)

	switch {
	case resolution:
		state.resolution = true
		for _, ref := range resolutionTargets(text, state) {
			c := base
			c.Signal = reconcile.SignalResolution
			c.Ticket = ref
			if ref == nil {
				// A bare resolution targets the thread's free-text
				// group, which is keyed by the original detection's
				// message id, not this reply's.
				if state.freeMsgID == "" {
					continue
				}
				c.MessageID = state.freeMsgID
			}
			candidates = append(candidates, c)
		}
	case blocking, critical:
		signal := reconcile.SignalBlocking
		if critical {
			signal = reconcile.SignalCritical
		} else {
			state.blocking = true
		}
		refs := rules.ExtractTickets(text)
		if len(refs) == 0 {
			if state.freeMsgID == "" {
				state.freeMsgID = msg.ID
			}
			c := base
			c.Signal = signal
			c.MessageID = state.freeMsgID
			candidates = append(candidates, c)
			break
		}
		for i := range refs {
			ref := refs[i]
			ref.SourceMessageID = msg.ID
			state.rememberTicket(&ref)
			c := base
			c.Signal = signal
			c.Ticket = &ref
			candidates = append(candidates, c)
		}
	}
	return candidates
}

func (s *threadState) rememberTicket(ref *types.TicketRef) {
	if suffix := rules.TicketNumericSuffix(ref.Key); suffix != "" {
		s.tickets[suffix] = ref
	}
}

var bareNumberRegex = regexp.MustCompile(`\b[0-9]+\b`)

// resolutionTargets decides which groups a resolution statement
// addresses: explicit ticket keys first, then numeric-suffix references
// to tickets already seen in the thread ("100 is fixed" after a list
// naming KAH-100), and finally, with no reference at all, every group
// in the thread, since a bare "fixed, not blocking anymore" reply
// speaks for the whole conversation. A nil entry targets the thread's
// free-text group.
func resolutionTargets(text string, state *threadState) []*types.TicketRef {
	if refs := rules.ExtractTickets(text); len(refs) > 0 {
		out := make([]*types.TicketRef, len(refs))
		for i := range refs {
			out[i] = &refs[i]
		}
		return out
	}

	var out []*types.TicketRef
	for _, num := range bareNumberRegex.FindAllString(text, -1) {
		if ref, ok := state.tickets[num]; ok {
			out = append(out, ref)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, ref := range state.tickets {
		out = append(out, ref)
	}
	// Always include the free-text group; the thread root may have
	// carried no ticket at all.
	out = append(out, nil)
	return out
}

// semanticResolutions asks the model whether the thread's blocking
// tickets were resolved in conversation. Only confident resolved or
// not-blocking verdicts become resolution candidates; everything else
// leaves the heuristic result standing.
func (p *Pipeline) semanticResolutions(ctx context.Context, tc *types.ThreadContext, state *threadState) []reconcile.Candidate {
	items := make([]string, 0, len(state.tickets))
	for _, ref := range state.tickets {
		items = append(items, ref.Key)
	}
	if len(items) == 0 {
		return nil
	}
	// Map iteration order would vary the prompt between otherwise
	// identical runs.
	sort.Strings(items)

	verdicts := p.classifier.Classify(ctx, *tc, items)
	last := tc.Root
	if n := len(tc.Replies); n > 0 {
		last = tc.Replies[n-1]
	}

	var candidates []reconcile.Candidate
	for _, key := range items {
		v, ok := verdicts[key]
		if !ok || !v.UsedSemanticModel || v.Confidence < p.classifier.ConfidenceFloor {
			continue
		}
		if v.Status != types.StatusResolved && v.Status != types.StatusNotBlocking {
			continue
		}
		ref := &types.TicketRef{Key: key, SourceMessageID: last.ID}
		candidates = append(candidates, reconcile.Candidate{
			Ticket:    ref,
			Signal:    reconcile.SignalResolution,
			Text:      v.Reasoning,
			Timestamp: last.Timestamp,
			MessageID: last.ID,
			ThreadID:  state.threadID,
			HasThread: true,
		})
	}
	return candidates
}
