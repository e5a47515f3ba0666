// Package types defines the core data model shared by every stage of the
// release-gate detection pipeline: chat messages and threads on the input
// side, tickets, issues and classification verdicts on the output side.
package types

import (
	"fmt"
	"regexp"
	"time"
)

// Message is a single chat message as returned by the message source.
// The pipeline treats messages as immutable input; it never writes back.
//
// ID is an opaque identifier that is monotonically comparable within a
// channel (chat platforms encode the post timestamp in it), which is what
// makes last-signal-wins reconciliation possible without a separate clock.
type Message struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	Text         string    `json:"text"`
	Author       string    `json:"author"`
	ThreadRootID string    `json:"thread_root_id,omitempty"`
	ReplyCount   int       `json:"reply_count,omitempty"`
	IsBot        bool      `json:"is_bot"`
	Timestamp    time.Time `json:"timestamp"`
	Permalink    string    `json:"permalink,omitempty"`
}

// InThread reports whether the message carries its own thread pointer.
func (m *Message) InThread() bool {
	return m.ThreadRootID != ""
}

// ThreadContext is a root message plus its replies in arrival order
// (oldest first, root excluded). Built once per seed message and never
// mutated after construction.
type ThreadContext struct {
	Root    Message   `json:"root"`
	Replies []Message `json:"replies,omitempty"`
}

// HasReplies reports whether the thread has any replies beyond the root.
func (t *ThreadContext) HasReplies() bool {
	return len(t.Replies) > 0
}

// Messages returns the root followed by all replies, oldest first.
func (t *ThreadContext) Messages() []Message {
	out := make([]Message, 0, len(t.Replies)+1)
	out = append(out, t.Root)
	out = append(out, t.Replies...)
	return out
}

// ticketKeyRegex matches a full ticket key: uppercase project code, dash,
// number. Keys are case-sensitive; "proj-123" is not a ticket.
var ticketKeyRegex = regexp.MustCompile(`^[A-Z]+-[0-9]+$`)

// TicketRef is a reference to an external issue-tracker item extracted
// from message text. Summary and Status are empty until the tracker
// client fills them in.
type TicketRef struct {
	Key             string `json:"key"`
	URL             string `json:"url,omitempty"`
	Summary         string `json:"summary,omitempty"`
	Status          string `json:"status,omitempty"`
	SourceMessageID string `json:"source_message_id,omitempty"`
	ThreadLink      string `json:"thread_link,omitempty"`
}

// Validate checks that the ticket reference has a well-formed key.
func (t *TicketRef) Validate() error {
	if !ticketKeyRegex.MatchString(t.Key) {
		return fmt.Errorf("invalid ticket key: %q (expected PROJECT-NUMBER)", t.Key)
	}
	return nil
}

// IssueKind classifies a detected issue's effect on the release.
type IssueKind string

const (
	// KindBlocking means the release must not ship until this is resolved.
	KindBlocking IssueKind = "blocking"

	// KindCritical means the issue needs attention but was not declared a
	// release blocker.
	KindCritical IssueKind = "critical"

	// KindResolvedBlocking means the issue was declared blocking and later
	// unblocked within the same thread.
	KindResolvedBlocking IssueKind = "resolved_blocking"
)

// IsValid checks if the issue kind is one of the known values.
func (k IssueKind) IsValid() bool {
	switch k {
	case KindBlocking, KindCritical, KindResolvedBlocking:
		return true
	}
	return false
}

// Severity orders kinds for most-severe-wins tiebreaks. Higher is worse.
func (k IssueKind) Severity() int {
	switch k {
	case KindBlocking:
		return 3
	case KindCritical:
		return 2
	case KindResolvedBlocking:
		return 1
	}
	return 0
}

// Issue is one reconciled detection: a logical incident that may block
// the release, aggregating every ticket reference that survived
// deduplication. Issues are created by the reconciler and immutable
// afterwards; they live for one pipeline run and are not persisted by
// the pipeline itself.
type Issue struct {
	Kind             IssueKind   `json:"kind"`
	Tickets          []TicketRef `json:"tickets,omitempty"` // unique by key, first-appearance order
	Text             string      `json:"text,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
	HasThread        bool        `json:"has_thread"`
	ResolutionText   string      `json:"resolution_text,omitempty"`
	HotfixCommitment bool        `json:"hotfix_commitment,omitempty"`
	SourceMessageID  string      `json:"source_message_id"`
}

// Validate enforces the core issue invariant: at least one ticket or
// non-empty free text, valid kind, and no duplicate ticket keys.
func (i *Issue) Validate() error {
	if !i.Kind.IsValid() {
		return fmt.Errorf("invalid issue kind: %q", i.Kind)
	}
	if len(i.Tickets) == 0 && i.Text == "" {
		return fmt.Errorf("issue must have at least one ticket or non-empty text")
	}
	seen := make(map[string]bool, len(i.Tickets))
	for _, t := range i.Tickets {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Key] {
			return fmt.Errorf("duplicate ticket key: %s", t.Key)
		}
		seen[t.Key] = true
	}
	if i.Kind == KindResolvedBlocking && i.ResolutionText == "" {
		return fmt.Errorf("resolution_text is required for resolved issues")
	}
	return nil
}

// TicketKeys returns the issue's ticket keys in stored order.
func (i *Issue) TicketKeys() []string {
	keys := make([]string, len(i.Tickets))
	for n, t := range i.Tickets {
		keys[n] = t.Key
	}
	return keys
}

// SeverityFilter selects which issue kinds a pipeline run reports.
type SeverityFilter string

const (
	FilterBlocking SeverityFilter = "blocking"
	FilterCritical SeverityFilter = "critical"
	FilterBoth     SeverityFilter = "both"
)

// IsValid checks if the severity filter is one of the known values.
func (f SeverityFilter) IsValid() bool {
	switch f {
	case FilterBlocking, FilterCritical, FilterBoth:
		return true
	}
	return false
}

// Matches reports whether an issue kind passes the filter. Resolved
// blockers travel with the blocking filter: a resolved blocker is still
// release-relevant information.
func (f SeverityFilter) Matches(k IssueKind) bool {
	switch f {
	case FilterBlocking:
		return k == KindBlocking || k == KindResolvedBlocking
	case FilterCritical:
		return k == KindCritical
	default:
		return true
	}
}

// DetectionConfig is the per-run input to the pipeline. It is passed once
// per run and never mutated during the run.
type DetectionConfig struct {
	Channel     string         `json:"channel"`
	Date        time.Time      `json:"date"`
	Severity    SeverityFilter `json:"severity"`
	MaxThreads  int            `json:"max_threads,omitempty"`
	MaxMessages int            `json:"max_messages,omitempty"`
}

// Validate checks the detection config for a runnable combination.
func (c *DetectionConfig) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if c.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if c.Severity != "" && !c.Severity.IsValid() {
		return fmt.Errorf("invalid severity filter: %q", c.Severity)
	}
	if c.MaxThreads < 0 {
		return fmt.Errorf("max_threads cannot be negative (got %d)", c.MaxThreads)
	}
	if c.MaxMessages < 0 {
		return fmt.Errorf("max_messages cannot be negative (got %d)", c.MaxMessages)
	}
	return nil
}
