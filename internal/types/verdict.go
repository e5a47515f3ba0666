package types

import (
	"fmt"
	"strings"
)

// VerdictStatus is the closed set of statuses the classifier can assign
// to an ambiguous item (a failing test or a ticket mention). Anything a
// semantic model returns outside this set is coerced to StatusUnclear.
type VerdictStatus string

const (
	StatusResolved       VerdictStatus = "resolved"
	StatusNotBlocking    VerdictStatus = "not_blocking"
	StatusFixInProgress  VerdictStatus = "fix_in_progress"
	StatusFlaky          VerdictStatus = "flaky"
	StatusNeedsAttention VerdictStatus = "needs_attention"
	StatusInvestigating  VerdictStatus = "investigating"
	StatusTracked        VerdictStatus = "tracked"
	StatusStillFailing   VerdictStatus = "still_failing"
	StatusUnclear        VerdictStatus = "unclear"
)

// IsValid checks if the status is one of the known values.
func (s VerdictStatus) IsValid() bool {
	switch s {
	case StatusResolved, StatusNotBlocking, StatusFixInProgress, StatusFlaky,
		StatusNeedsAttention, StatusInvestigating, StatusTracked,
		StatusStillFailing, StatusUnclear:
		return true
	}
	return false
}

// NormalizeVerdictStatus maps free-form status text onto the closed enum.
// Unknown values become StatusUnclear rather than an error: the model's
// opinion is advisory, never load-bearing.
func NormalizeVerdictStatus(raw string) VerdictStatus {
	s := VerdictStatus(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, " ", "_"))))
	if s.IsValid() {
		return s
	}
	// Common model paraphrases.
	switch s {
	case "fixed", "done", "passed", "passing":
		return StatusResolved
	case "not_a_blocker", "non_blocking", "nonblocking":
		return StatusNotBlocking
	case "in_progress", "wip", "being_fixed":
		return StatusFixInProgress
	case "failing", "broken", "still_broken":
		return StatusStillFailing
	case "unknown", "":
		return StatusUnclear
	}
	return StatusUnclear
}

// Actionable reports whether the status still demands human attention
// before a release can proceed.
func (s VerdictStatus) Actionable() bool {
	switch s {
	case StatusResolved, StatusNotBlocking, StatusFlaky, StatusTracked:
		return false
	}
	return true
}

// ClassificationVerdict is the per-item output of the classification
// stage. Exactly one verdict wins per item: the semantic verdict when the
// model was available and confident enough, the heuristic verdict
// otherwise.
type ClassificationVerdict struct {
	ItemID            string        `json:"item_id"`
	Status            VerdictStatus `json:"status"`
	Confidence        int           `json:"confidence"` // 0-100
	Reasoning         string        `json:"reasoning,omitempty"`
	UsedSemanticModel bool          `json:"used_semantic_model"`
}

// Validate checks the verdict for internally consistent values.
func (v *ClassificationVerdict) Validate() error {
	if v.ItemID == "" {
		return fmt.Errorf("item_id is required")
	}
	if !v.Status.IsValid() {
		return fmt.Errorf("invalid verdict status: %q", v.Status)
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100 (got %d)", v.Confidence)
	}
	return nil
}

// NeedsReviewVerdict is the uniform fallback used whenever the semantic
// model is unavailable, times out, or returns something unparseable.
func NeedsReviewVerdict(itemID string) ClassificationVerdict {
	return ClassificationVerdict{
		ItemID:            itemID,
		Status:            StatusNeedsAttention,
		Confidence:        0,
		Reasoning:         "semantic model unavailable; needs manual review",
		UsedSemanticModel: false,
	}
}
