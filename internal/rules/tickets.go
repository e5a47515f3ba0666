package rules

import (
	"regexp"
	"strings"

	"github.com/relgate/relgate/internal/types"
)

var (
	// ticketRegex matches ticket keys inline: uppercase project code,
	// dash, number. No case folding; "proj-123" is not a ticket.
	ticketRegex = regexp.MustCompile(`\b[A-Z]+-[0-9]+\b`)

	// explicitListHeaderRegex recognizes the structural header of a
	// blocker list. Hotfix lists are blocker lists by business rule: a
	// hotfix implies something blocking enough to patch.
	explicitListHeaderRegex = regexp.MustCompile(`(?im)^\s*\**\s*(blockers?|list\s+of\s+hotfix(es)?|hotfix(es)?\s+list)\s*\**\s*:`)

	// listLineRegex matches a bulleted or hyphenated list line.
	listLineRegex = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*(.+)$`)

	// threadLinkRegex pulls a "mentioned in thread" style link off a
	// list line: either a bare archive URL or a markdown-style <url|label>.
	threadLinkRegex = regexp.MustCompile(`<?(https?://[^\s<>|]+/archives/[^\s<>|]+)(?:\|[^>]*)?>?`)
)

// ExtractTickets regex-extracts every ticket key from text, preserving
// first-appearance order and dropping repeats. Malformed shapes
// ("PROJ-", "-123", "PROJX123") yield no matches. Returns nil for empty
// input.
func ExtractTickets(text string) []types.TicketRef {
	if text == "" {
		return nil
	}
	matches := ticketRegex.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	refs := make([]types.TicketRef, 0, len(matches))
	for _, key := range matches {
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, types.TicketRef{Key: key})
	}
	return refs
}

// ParseExplicitList parses a structural blocker or hotfix list: a
// recognized header followed by bulleted or hyphenated lines. For each
// line the first ticket key is extracted, together with an adjacent
// thread link when present. Lines without a ticket key are skipped.
func ParseExplicitList(text string) []types.TicketRef {
	if text == "" {
		return nil
	}
	loc := explicitListHeaderRegex.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	var refs []types.TicketRef
	seen := make(map[string]bool)
	lines := strings.Split(text[loc[1]:], "\n")
	for _, line := range lines {
		item := line
		if m := listLineRegex.FindStringSubmatch(line); m != nil {
			item = m[1]
		} else if strings.TrimSpace(line) == "" {
			continue
		}
		key := ticketRegex.FindString(item)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		ref := types.TicketRef{Key: key}
		if link := threadLinkRegex.FindStringSubmatch(item); link != nil {
			ref.ThreadLink = link[1]
		}
		refs = append(refs, ref)
	}
	return refs
}

// IsExplicitList reports whether text carries a recognizable blocker or
// hotfix list header.
func IsExplicitList(text string) bool {
	return text != "" && explicitListHeaderRegex.MatchString(text)
}

// TicketNumericSuffix returns the numeric part of a ticket key, or ""
// when the key has no dash. Used for numeric-suffix matching against
// enumerated blocker lists ("3 is fixed" referring to the third entry's
// PROJ-303).
func TicketNumericSuffix(key string) string {
	i := strings.LastIndexByte(key, '-')
	if i < 0 || i == len(key)-1 {
		return ""
	}
	return key[i+1:]
}
