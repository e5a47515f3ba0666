package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgate/relgate/internal/chat"
	"github.com/relgate/relgate/internal/seeds"
	"github.com/relgate/relgate/internal/semantic"
	"github.com/relgate/relgate/internal/types"
)

// stubSource is an in-memory MessageSource. Every query in the battery
// returns the same message set; dedup makes that equivalent to the
// real overlapping searches.
type stubSource struct {
	messages  []chat.Message
	replies   map[string][]chat.Message
	searchErr map[string]error
}

func (s *stubSource) Search(_ context.Context, query string, _ chat.SearchWindow) ([]chat.Message, error) {
	if err, ok := s.searchErr[query]; ok {
		return nil, err
	}
	return s.messages, nil
}

func (s *stubSource) GetThreadReplies(_ context.Context, _, rootID string) ([]chat.Message, error) {
	return s.replies[rootID], nil
}

func (s *stubSource) GetMessage(_ context.Context, _, id string) (chat.Message, error) {
	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return chat.Message{}, errors.New("not found")
}

func (s *stubSource) GetPermalink(context.Context, string, string) (string, error) {
	return "", nil
}

// scriptedGenerator satisfies semantic.Generator for second-tier tests.
type scriptedGenerator struct {
	response string
}

func (g *scriptedGenerator) Available(context.Context) bool { return true }

func (g *scriptedGenerator) Generate(context.Context, string) (string, error) {
	return g.response, nil
}

func (g *scriptedGenerator) Reset() {}

// capturingGenerator records the prompt it was handed.
type capturingGenerator struct {
	scriptedGenerator
	prompt string
}

func (g *capturingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.response, nil
}

var runCfg = types.DetectionConfig{
	Channel: "C024BE91L",
	Date:    time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
}

func ts(offset int) time.Time {
	return time.Date(2026, 8, 28, 9, 0, offset, 0, time.UTC)
}

func TestRunStandaloneBlocker(t *testing.T) {
	source := &stubSource{messages: []chat.Message{
		{ID: "1724900000.000100", ChannelID: "C024BE91L", Author: "dana", Text: "Blocker: KAH-100 login broken", Timestamp: ts(0)},
	}}

	res, err := New(source, nil).Run(context.Background(), runCfg)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, StageDone, res.Stage)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, res.Issues, 1)
	issue := res.Issues[0]
	assert.Equal(t, types.KindBlocking, issue.Kind)
	assert.Equal(t, []string{"KAH-100"}, issue.TicketKeys())
	assert.False(t, issue.HasThread)
	assert.NoError(t, issue.Validate())
}

func TestRunResolvedInThread(t *testing.T) {
	rootID := "1724900000.000100"
	source := &stubSource{
		messages: []chat.Message{
			{ID: rootID, ChannelID: "C024BE91L", Author: "dana", Text: "release blocker cc @escalation", ReplyCount: 1, Timestamp: ts(0)},
		},
		replies: map[string][]chat.Message{
			rootID: {
				{ID: rootID, Text: "release blocker cc @escalation", Timestamp: ts(0)},
				{ID: "1724900060.000200", Author: "lee", Text: "fixed, not blocking anymore", ThreadRootID: rootID, Timestamp: ts(60)},
			},
		},
	}

	res, err := New(source, nil).Run(context.Background(), runCfg)
	require.NoError(t, err)

	require.Len(t, res.Issues, 1)
	issue := res.Issues[0]
	assert.Equal(t, types.KindResolvedBlocking, issue.Kind)
	assert.Equal(t, "fixed, not blocking anymore", issue.ResolutionText)
	assert.True(t, issue.HasThread)
	assert.NoError(t, issue.Validate())
}

func TestRunUITerminologyIsNotABlocker(t *testing.T) {
	source := &stubSource{messages: []chat.Message{
		{ID: "1724900000.000100", ChannelID: "C024BE91L", Author: "sam", Text: "this blocks the answer block editor", Timestamp: ts(0)},
	}}

	res, err := New(source, nil).Run(context.Background(), runCfg)
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
	assert.False(t, res.Partial, "a clean empty run is not a partial run")
}

func TestRunExplicitListWithNumericResolution(t *testing.T) {
	rootID := "1724900000.000100"
	source := &stubSource{
		messages: []chat.Message{
			{ID: rootID, ChannelID: "C024BE91L", Author: "dana", Text: "Blockers:\n- KAH-100 login broken\n- KAH-200 checkout timeout", ReplyCount: 1, Timestamp: ts(0)},
		},
		replies: map[string][]chat.Message{
			rootID: {
				{ID: "1724900060.000200", Author: "lee", Text: "100 is fixed and deployed", ThreadRootID: rootID, Timestamp: ts(60)},
			},
		},
	}

	res, err := New(source, nil).Run(context.Background(), runCfg)
	require.NoError(t, err)
	require.Len(t, res.Issues, 2)

	byKey := make(map[string]types.Issue)
	for _, issue := range res.Issues {
		require.Len(t, issue.Tickets, 1)
		byKey[issue.Tickets[0].Key] = issue
	}
	assert.Equal(t, types.KindResolvedBlocking, byKey["KAH-100"].Kind)
	assert.Equal(t, types.KindBlocking, byKey["KAH-200"].Kind)
}

func TestRunCriticalDetectionAndSeverityFilter(t *testing.T) {
	source := &stubSource{messages: []chat.Message{
		{ID: "1724900000.000100", ChannelID: "C024BE91L", Author: "dana", Text: "urgent: PAY-7 payments erroring", Timestamp: ts(0)},
		{ID: "1724900000.000200", ChannelID: "C024BE91L", Author: "lee", Text: "release blocker KAH-1", Timestamp: ts(5)},
	}}

	both, err := New(source, nil).Run(context.Background(), runCfg)
	require.NoError(t, err)
	assert.Len(t, both.Issues, 2)

	cfg := runCfg
	cfg.Severity = types.FilterCritical
	critical, err := New(source, nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, critical.Issues, 1)
	assert.Equal(t, types.KindCritical, critical.Issues[0].Kind)
	assert.Equal(t, []string{"PAY-7"}, critical.Issues[0].TicketKeys())
}

func TestRunNegatedCriticalIgnored(t *testing.T) {
	source := &stubSource{messages: []chat.Message{
		{ID: "1724900000.000100", ChannelID: "C024BE91L", Author: "sam", Text: "the slow dashboard is not really that critical", Timestamp: ts(0)},
	}}

	res, err := New(source, nil).Run(context.Background(), runCfg)
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
}

func TestRunPartialSearchFailure(t *testing.T) {
	source := &stubSource{
		messages: []chat.Message{
			{ID: "1724900000.000100", ChannelID: "C024BE91L", Author: "dana", Text: "release blocker KAH-1", Timestamp: ts(0)},
		},
		searchErr: map[string]error{"urgent": errors.New("rate limited")},
	}

	res, err := New(source, nil).Run(context.Background(), runCfg)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.Issues, 1)
}

func TestRunAllSearchesFailedIsFatal(t *testing.T) {
	searchErr := make(map[string]error, len(seeds.DefaultQueries))
	for _, q := range seeds.DefaultQueries {
		searchErr[q] = errors.New("token revoked")
	}
	source := &stubSource{searchErr: searchErr}

	res, err := New(source, nil).Run(context.Background(), runCfg)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, seeds.ErrAllSearchesFailed)
	assert.Contains(t, err.Error(), "collecting")
}

func TestRunInvalidConfig(t *testing.T) {
	source := &stubSource{}
	_, err := New(source, nil).Run(context.Background(), types.DetectionConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid detection config")
}

func TestRunSemanticResolutionOverridesHeuristics(t *testing.T) {
	rootID := "1724900000.000100"
	source := &stubSource{
		messages: []chat.Message{
			{ID: rootID, ChannelID: "C024BE91L", Author: "dana", Text: "release blocker KAH-500", ReplyCount: 1, Timestamp: ts(0)},
		},
		replies: map[string][]chat.Message{
			rootID: {
				{ID: "1724900060.000200", Author: "lee", Text: "deploying the fix now, should be good", ThreadRootID: rootID, Timestamp: ts(60)},
			},
		},
	}

	classifier := semantic.NewClassifier(&scriptedGenerator{
		response: `{"items": [{"id": 1, "status": "resolved", "confidence": 90, "reasoning": "fix deployed per thread"}]}`,
	})

	res, err := New(source, classifier).Run(context.Background(), runCfg)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.KindResolvedBlocking, res.Issues[0].Kind)
	assert.Equal(t, "fix deployed per thread", res.Issues[0].ResolutionText)
}

func TestRunSemanticBelowConfidenceFloorIgnored(t *testing.T) {
	rootID := "1724900000.000100"
	source := &stubSource{
		messages: []chat.Message{
			{ID: rootID, ChannelID: "C024BE91L", Author: "dana", Text: "release blocker KAH-500", ReplyCount: 1, Timestamp: ts(0)},
		},
		replies: map[string][]chat.Message{
			rootID: {
				{ID: "1724900060.000200", Author: "lee", Text: "hmm, maybe sorted?", ThreadRootID: rootID, Timestamp: ts(60)},
			},
		},
	}

	classifier := semantic.NewClassifier(&scriptedGenerator{
		response: `{"items": [{"id": 1, "status": "resolved", "confidence": 40}]}`,
	})

	res, err := New(source, classifier).Run(context.Background(), runCfg)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.KindBlocking, res.Issues[0].Kind,
		"a low-confidence model verdict must not override the heuristic result")
}

func TestRunSemanticPromptOrderIsStable(t *testing.T) {
	rootID := "1724900000.000100"
	source := &stubSource{
		messages: []chat.Message{
			{ID: rootID, ChannelID: "C024BE91L", Author: "dana", Text: "release blockers KAH-900 and KAH-100 both broken", ReplyCount: 1, Timestamp: ts(0)},
		},
		replies: map[string][]chat.Message{
			rootID: {
				{ID: "1724900060.000200", Author: "lee", Text: "any news on these?", ThreadRootID: rootID, Timestamp: ts(60)},
			},
		},
	}

	gen := &capturingGenerator{scriptedGenerator: scriptedGenerator{
		response: `{"items": [{"id": 1, "status": "resolved", "confidence": 90, "reasoning": "done"}]}`,
	}}

	res, err := New(source, semantic.NewClassifier(gen)).Run(context.Background(), runCfg)
	require.NoError(t, err)

	// Tickets are presented in sorted key order regardless of how the
	// thread mentioned them, so identical runs build identical prompts
	// and a verdict's numeric id always names the same ticket.
	assert.Contains(t, gen.prompt, "1. KAH-100\n2. KAH-900")

	byKey := make(map[string]types.IssueKind)
	for _, issue := range res.Issues {
		require.Len(t, issue.Tickets, 1)
		byKey[issue.Tickets[0].Key] = issue.Kind
	}
	assert.Equal(t, types.KindResolvedBlocking, byKey["KAH-100"])
	assert.Equal(t, types.KindBlocking, byKey["KAH-900"])
}

func TestRunIdempotent(t *testing.T) {
	rootID := "1724900000.000100"
	source := &stubSource{
		messages: []chat.Message{
			{ID: rootID, ChannelID: "C024BE91L", Author: "dana", Text: "release blocker KAH-1", ReplyCount: 1, Timestamp: ts(0)},
			{ID: "1724900000.000300", ChannelID: "C024BE91L", Author: "lee", Text: "urgent PAY-7 is down", Timestamp: ts(10)},
			{ID: "1724900000.000500", ChannelID: "C024BE91L", Author: "sam", Text: "hotfix for KAH-9 going out", Timestamp: ts(20)},
		},
		replies: map[string][]chat.Message{
			rootID: {
				{ID: "1724900060.000200", Author: "lee", Text: "KAH-1 fixed", ThreadRootID: rootID, Timestamp: ts(60)},
			},
		},
	}
	p := New(source, nil)

	first, err := p.Run(context.Background(), runCfg)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), runCfg)
	require.NoError(t, err)

	assert.Equal(t, first.Issues, second.Issues)
	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, first.Partial, second.Partial)
}

func TestRunConcurrent(t *testing.T) {
	source := &stubSource{messages: []chat.Message{
		{ID: "1724900000.000100", ChannelID: "C024BE91L", Author: "dana", Text: "release blocker KAH-1", Timestamp: ts(0)},
		{ID: "1724900000.000200", ChannelID: "C024BE91L", Author: "lee", Text: "critical outage PAY-2", Timestamp: ts(5)},
	}}
	p := New(source, nil)

	baseline, err := p.Run(context.Background(), runCfg)
	require.NoError(t, err)

	const workers = 10
	results := make([]*Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background(), runCfg)
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, baseline.Issues, results[i].Issues, "worker %d", i)
		ids[results[i].RunID] = true
	}
	assert.Len(t, ids, workers, "every run gets its own id")
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "idle", StageIdle.String())
	assert.Equal(t, "collecting", StageCollecting.String())
	assert.Equal(t, "done", StageDone.String())
	assert.Equal(t, "failed", StageFailed.String())
	assert.Equal(t, "unknown", Stage(99).String())
}
