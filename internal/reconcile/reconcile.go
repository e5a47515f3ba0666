// Package reconcile merges classification candidates that refer to the
// same ticket or message across overlapping seed queries and threads,
// and resolves conflicting signals over time. The governing invariant:
// a blocker's status is whatever was said most recently, not whatever
// was said first.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/relgate/relgate/internal/types"
)

// Signal is the classification a candidate carries into reconciliation.
type Signal string

const (
	SignalBlocking   Signal = "blocking"
	SignalCritical   Signal = "critical"
	SignalResolution Signal = "resolution"
)

// IsValid checks if the signal is one of the known values.
func (s Signal) IsValid() bool {
	switch s {
	case SignalBlocking, SignalCritical, SignalResolution:
		return true
	}
	return false
}

// Candidate is one detection before reconciliation: a signal about a
// ticket (or a free-text incident) at a point in time.
type Candidate struct {
	// Ticket is the referenced ticket, nil for free-text detections.
	Ticket *types.TicketRef

	Signal    Signal
	Text      string
	Timestamp time.Time
	MessageID string

	// ThreadID scopes resolution signals: a resolution only overrides
	// blocking signals from the same thread.
	ThreadID string

	HasThread bool
	Hotfix    bool
}

// groupKey is the primary deduplication key: ticket key when present,
// message id otherwise. Free-text detections never merge across
// threads.
func (c *Candidate) groupKey() string {
	if c.Ticket != nil && c.Ticket.Key != "" {
		return "ticket:" + c.Ticket.Key
	}
	return "msg:" + c.MessageID
}

// Stats summarizes a reconciliation pass.
type Stats struct {
	Candidates int `json:"candidates"`
	Groups     int `json:"groups"`
	Resolved   int `json:"resolved"`
	Blocking   int `json:"blocking"`
	Critical   int `json:"critical"`
}

// Result carries the reconciled issues with pass statistics.
type Result struct {
	Issues []types.Issue `json:"issues"`
	Stats  Stats         `json:"stats"`
}

// Validate checks that the stats are consistent with the issues.
func (r *Result) Validate() error {
	if r.Stats.Groups != len(r.Issues) {
		return fmt.Errorf("stats.groups (%d) does not match issue count (%d)", r.Stats.Groups, len(r.Issues))
	}
	counted := r.Stats.Resolved + r.Stats.Blocking + r.Stats.Critical
	if counted != len(r.Issues) {
		return fmt.Errorf("stats kinds sum (%d) does not match issue count (%d)", counted, len(r.Issues))
	}
	return nil
}

// Reconcile groups candidates, applies last-signal-wins per group, and
// emits one Issue per surviving group. Output order is by group key so
// identical input always yields identical output.
func Reconcile(candidates []Candidate) Result {
	groups := make(map[string][]Candidate)
	var order []string
	for _, c := range candidates {
		if !c.Signal.IsValid() {
			continue
		}
		key := c.groupKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	sort.Strings(order)

	res := Result{Stats: Stats{Candidates: len(candidates)}}
	for _, key := range order {
		issue, ok := reconcileGroup(groups[key])
		if !ok {
			continue
		}
		res.Issues = append(res.Issues, issue)
		switch issue.Kind {
		case types.KindResolvedBlocking:
			res.Stats.Resolved++
		case types.KindBlocking:
			res.Stats.Blocking++
		case types.KindCritical:
			res.Stats.Critical++
		}
	}
	res.Stats.Groups = len(res.Issues)
	return res
}

// reconcileGroup folds one group's candidates, oldest first, into a
// final issue. A resolution signal overrides everything before it; a
// blocking signal after a resolution re-opens the incident.
func reconcileGroup(group []Candidate) (types.Issue, bool) {
	sort.SliceStable(group, func(a, b int) bool {
		return group[a].Timestamp.Before(group[b].Timestamp)
	})

	var (
		kind           types.IssueKind
		resolutionText string
		tickets        []types.TicketRef
		ticketSeen     = make(map[string]bool)
		first          *Candidate
		hotfix         bool
		hasThread      bool
	)

	for i := range group {
		c := &group[i]
		if first == nil && c.Signal != SignalResolution {
			first = c
		}
		hotfix = hotfix || c.Hotfix
		hasThread = hasThread || c.HasThread
		if c.Ticket != nil && c.Ticket.Key != "" && !ticketSeen[c.Ticket.Key] {
			ticketSeen[c.Ticket.Key] = true
			tickets = append(tickets, *c.Ticket)
		}

		switch c.Signal {
		case SignalResolution:
			// A resolution with nothing to resolve carries no issue.
			if kind == "" {
				continue
			}
			kind = types.KindResolvedBlocking
			resolutionText = c.Text
		case SignalBlocking:
			kind = types.KindBlocking
			resolutionText = ""
		case SignalCritical:
			// Blocking outranks critical when both are live; critical
			// re-opens a resolved group only as critical.
			if kind != types.KindBlocking {
				kind = types.KindCritical
				resolutionText = ""
			}
		}
	}

	if kind == "" || first == nil {
		return types.Issue{}, false
	}

	issue := types.Issue{
		Kind:             kind,
		Tickets:          tickets,
		Timestamp:        first.Timestamp,
		HasThread:        hasThread,
		ResolutionText:   resolutionText,
		HotfixCommitment: hotfix,
		SourceMessageID:  first.MessageID,
	}
	issue.Text = first.Text
	return issue, true
}
