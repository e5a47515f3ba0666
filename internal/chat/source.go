// Package chat defines the boundary to the team communication platform.
// The pipeline only ever sees this interface; transport, retries and
// authentication live in whatever client implements it.
package chat

import (
	"context"
	"time"
)

// SearchWindow scopes a search to a channel and a date.
type SearchWindow struct {
	ChannelID string
	Date      time.Time
}

// MessageSource is the read-only view of the chat platform the pipeline
// consumes. Every call is independently fallible and best-effort; the
// pipeline's stage policies decide what a failure costs.
//
// Example usage:
//
//	msgs, err := src.Search(ctx, "release blocker", chat.SearchWindow{ChannelID: ch, Date: day})
//	if err != nil {
//	    // one failed search does not sink the stage
//	}
type MessageSource interface {
	// Search returns messages in the window matching the query.
	Search(ctx context.Context, query string, window SearchWindow) ([]Message, error)

	// GetThreadReplies returns the ordered replies of a thread, oldest
	// first, root excluded.
	GetThreadReplies(ctx context.Context, channelID, rootID string) ([]Message, error)

	// GetMessage fetches a single message by id.
	GetMessage(ctx context.Context, channelID, id string) (Message, error)

	// GetPermalink resolves a browsable link for a message. Non-fatal
	// when unavailable; callers must tolerate an empty result.
	GetPermalink(ctx context.Context, channelID, id string) (string, error)
}

// Message is the platform-level message shape, including the raw block
// payload. The pipeline converts these to types.Message via ToModel.
type Message struct {
	ID           string
	ChannelID    string
	Author       string
	Text         string
	Blocks       []Block
	ThreadRootID string
	ReplyCount   int
	BotID        string
	Timestamp    time.Time
	Permalink    string
}

// PlainText returns the message text, falling back to text extracted
// from the block payload when the top-level text field is empty (bot
// posts frequently carry all content in blocks).
func (m *Message) PlainText() string {
	if m.Text != "" {
		return m.Text
	}
	return ExtractText(m.Blocks)
}

// IsBot reports whether the message was posted by a bot integration.
func (m *Message) IsBot() bool {
	return m.BotID != ""
}
