package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelCache(t *testing.T) {
	c := NewChannelCache()

	_, ok := c.Get("release-room")
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	c.Put("release-room", "C024")
	id, ok := c.Get("release-room")
	assert.True(t, ok)
	assert.Equal(t, "C024", id)
	assert.Equal(t, 1, c.Len())
}

func TestChannelCacheConcurrentIdempotentWrites(t *testing.T) {
	c := NewChannelCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put("release-room", "C024")
			if id, ok := c.Get("release-room"); ok {
				assert.Equal(t, "C024", id)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

func TestToModel(t *testing.T) {
	now := time.Unix(1724900000, 0).UTC()
	m := Message{
		ID:           "1724900000.000100",
		ChannelID:    "C024",
		Author:       "dana",
		Blocks:       []Block{{Type: BlockSection, Text: &TextObject{Text: "release blocker KAH-1"}}},
		ThreadRootID: "1724899000.000001",
		ReplyCount:   2,
		BotID:        "B01",
		Timestamp:    now,
		Permalink:    "https://acme.slack.com/archives/C024/p1",
	}

	model := ToModel(m)
	assert.Equal(t, "1724900000.000100", model.ID)
	assert.Equal(t, "release blocker KAH-1", model.Text, "block text is flattened when text is empty")
	assert.Equal(t, "1724899000.000001", model.ThreadRootID)
	assert.True(t, model.IsBot)
	assert.Equal(t, now, model.Timestamp)

	models := ToModels([]Message{m, {ID: "2", Text: "plain"}})
	require.Len(t, models, 2)
	assert.Equal(t, "plain", models[1].Text)
}

func TestThrottledDelegates(t *testing.T) {
	inner := &countingSource{}
	throttled := NewThrottled(inner, 100, 10)
	ctx := context.Background()

	_, err := throttled.Search(ctx, "blocker", SearchWindow{ChannelID: "C024", Date: time.Now()})
	require.NoError(t, err)
	_, err = throttled.GetThreadReplies(ctx, "C024", "1")
	require.NoError(t, err)
	_, err = throttled.GetMessage(ctx, "C024", "1")
	require.NoError(t, err)
	_, err = throttled.GetPermalink(ctx, "C024", "1")
	require.NoError(t, err)

	assert.Equal(t, 4, inner.calls)
}

func TestThrottledCancelledContext(t *testing.T) {
	inner := &countingSource{}
	throttled := NewThrottled(inner, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	// Burn the only burst token, then cancel: the next wait cannot
	// acquire and must surface the context error.
	_, err := throttled.Search(ctx, "blocker", SearchWindow{})
	require.NoError(t, err)
	cancel()

	_, err = throttled.Search(ctx, "blocker", SearchWindow{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls, "a cancelled wait must not reach the wrapped source")
}

type countingSource struct {
	calls int
}

func (s *countingSource) Search(context.Context, string, SearchWindow) ([]Message, error) {
	s.calls++
	return nil, nil
}

func (s *countingSource) GetThreadReplies(context.Context, string, string) ([]Message, error) {
	s.calls++
	return nil, nil
}

func (s *countingSource) GetMessage(context.Context, string, string) (Message, error) {
	s.calls++
	return Message{}, nil
}

func (s *countingSource) GetPermalink(context.Context, string, string) (string, error) {
	s.calls++
	return "", nil
}
