package chat

import "github.com/relgate/relgate/internal/types"

// ToModel converts a platform message to the pipeline's message model,
// flattening block content into plain text.
func ToModel(m Message) types.Message {
	return types.Message{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		Text:         m.PlainText(),
		Author:       m.Author,
		ThreadRootID: m.ThreadRootID,
		ReplyCount:   m.ReplyCount,
		IsBot:        m.IsBot(),
		Timestamp:    m.Timestamp,
		Permalink:    m.Permalink,
	}
}

// ToModels converts a slice of platform messages.
func ToModels(msgs []Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = ToModel(m)
	}
	return out
}
