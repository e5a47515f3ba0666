// Package seeds implements the first pipeline stage: fan out a fixed
// battery of keyword searches over the channel, merge the results into
// a deduplicated set of seed messages, and pre-filter obvious
// non-candidates.
package seeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/relgate/relgate/internal/chat"
	"github.com/relgate/relgate/internal/rules"
	"github.com/relgate/relgate/internal/types"
)

// ErrAllSearchesFailed is returned when every seed search fails. This is
// the only condition under which seed collection sinks the pipeline: a
// single down dependency must not blank out detection, but zero working
// dependencies must not masquerade as "no issues found".
var ErrAllSearchesFailed = errors.New("seed collection: all searches failed")

// DefaultQueries is the fixed keyword battery. Each query runs as an
// independent search; overlap between them is expected and resolved by
// message-id dedup.
var DefaultQueries = []string{
	"blocker",
	"blocking",
	"critical",
	"urgent",
	"hotfix",
	"no go",
	"release blocker",
}

// Collector fans out seed searches against a message source.
type Collector struct {
	source  chat.MessageSource
	queries []string
}

// NewCollector returns a collector using the default query battery.
func NewCollector(source chat.MessageSource) *Collector {
	return &Collector{source: source, queries: DefaultQueries}
}

// WithQueries overrides the query battery. Used by tests and by the
// critical-only severity filter, which drops the blocker queries.
func (c *Collector) WithQueries(queries []string) *Collector {
	c.queries = queries
	return c
}

// Result is the outcome of a collection pass.
type Result struct {
	// Seeds are the merged, deduplicated, pre-filtered seed messages,
	// ordered by message id for deterministic downstream behavior.
	Seeds []types.Message

	// Partial is true when at least one search failed but at least one
	// succeeded. Downstream reporting surfaces this as degraded, not
	// failed.
	Partial bool

	// Failed lists the queries whose searches failed, for diagnostics.
	Failed []string
}

// Collect runs every query in parallel, merges successes, and applies
// the stage's failure policy: all failed is fatal, some failed is
// partial degradation.
func (c *Collector) Collect(ctx context.Context, cfg types.DetectionConfig) (Result, error) {
	window := chat.SearchWindow{ChannelID: cfg.Channel, Date: cfg.Date}

	type outcome struct {
		query string
		msgs  []chat.Message
		err   error
	}

	// Every search runs regardless of sibling failures; the outcomes
	// are partitioned afterwards so the all-failed-vs-some-failed
	// policy is applied in one visible place.
	outcomes := make([]outcome, len(c.queries))
	var wg sync.WaitGroup
	for i, q := range c.queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			msgs, err := c.source.Search(ctx, q, window)
			outcomes[i] = outcome{query: q, msgs: msgs, err: err}
		}(i, q)
	}
	wg.Wait()

	var res Result
	seen := make(map[string]bool)
	succeeded := 0
	for _, o := range outcomes {
		if o.err != nil {
			slog.Warn("seed search failed", "query", o.query, "error", o.err)
			res.Failed = append(res.Failed, o.query)
			continue
		}
		succeeded++
		for _, m := range o.msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			model := chat.ToModel(m)
			if skip, reason := shouldSkipSeed(model); skip {
				slog.Debug("seed filtered", "message", m.ID, "reason", reason)
				continue
			}
			res.Seeds = append(res.Seeds, model)
		}
	}

	if succeeded == 0 {
		return Result{}, fmt.Errorf("%w (%d queries)", ErrAllSearchesFailed, len(c.queries))
	}
	res.Partial = len(res.Failed) > 0

	// First occurrence won the dedup; a stable order keeps the whole
	// pipeline deterministic for identical input.
	sort.Slice(res.Seeds, func(a, b int) bool { return res.Seeds[a].ID < res.Seeds[b].ID })

	if cfg.MaxMessages > 0 && len(res.Seeds) > cfg.MaxMessages {
		res.Seeds = res.Seeds[:cfg.MaxMessages]
	}
	return res, nil
}

// shouldSkipSeed applies the cheap pre-filters: self-negated messages
// and daily status-summary headers. The summary post is handled by a
// separate ingestion path; letting it seed detection would make the
// report its own evidence.
func shouldSkipSeed(m types.Message) (bool, string) {
	if rules.IsStatusSummaryHeader(m.Text) {
		return true, "status summary header"
	}
	if rules.IsNegatedSeed(m.Text) && !rules.IsExplicitList(m.Text) {
		return true, "negated phrase"
	}
	return false, ""
}
