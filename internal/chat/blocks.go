package chat

import "strings"

// BlockType tags the variants of the platform's layout block payload.
// Modeling the payload as a closed tagged variant keeps text extraction
// explicit instead of walking untyped nested maps.
type BlockType string

const (
	BlockSection  BlockType = "section"
	BlockRichText BlockType = "rich_text"
	BlockContext  BlockType = "context"
	BlockHeader   BlockType = "header"
	BlockDivider  BlockType = "divider"
)

// Block is one layout block. Only the fields relevant to text
// extraction are modeled; everything else the platform sends is dropped
// at decode time.
type Block struct {
	Type BlockType `json:"type"`

	// Text carries the content of section and header blocks.
	Text *TextObject `json:"text,omitempty"`

	// Fields carries the column contents of section blocks.
	Fields []TextObject `json:"fields,omitempty"`

	// Elements carries rich_text and context sub-elements.
	Elements []Element `json:"elements,omitempty"`
}

// TextObject is a leaf text node inside a block.
type TextObject struct {
	Type string `json:"type,omitempty"` // plain_text or mrkdwn
	Text string `json:"text,omitempty"`
}

// Element is a rich_text or context sub-element. Rich text nests one
// level: a rich_text_section element holds leaf elements with text.
type Element struct {
	Type     string    `json:"type,omitempty"`
	Text     string    `json:"text,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// ExtractText flattens a block payload into newline-joined plain text.
// Divider blocks contribute nothing; unknown block types are skipped
// rather than rejected, since the platform adds block types faster than
// clients update.
func ExtractText(blocks []Block) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case BlockSection, BlockHeader:
			if b.Text != nil && b.Text.Text != "" {
				parts = append(parts, b.Text.Text)
			}
			for _, f := range b.Fields {
				if f.Text != "" {
					parts = append(parts, f.Text)
				}
			}
		case BlockRichText, BlockContext:
			if t := extractElements(b.Elements); t != "" {
				parts = append(parts, t)
			}
		case BlockDivider:
			// No text content.
		}
	}
	return strings.Join(parts, "\n")
}

func extractElements(elements []Element) string {
	var sb strings.Builder
	for _, e := range elements {
		if e.Text != "" {
			sb.WriteString(e.Text)
		}
		if len(e.Elements) > 0 {
			sb.WriteString(extractElements(e.Elements))
		}
	}
	return sb.String()
}
