package chat

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled wraps a MessageSource with a rate limiter so that the seed
// collector's parallel fan-out cannot trip the platform's rate limits.
// Each call waits for a token before delegating; a cancelled context
// surfaces as the call's error.
type Throttled struct {
	src     MessageSource
	limiter *rate.Limiter
}

// NewThrottled wraps src, allowing rps requests per second with the
// given burst.
func NewThrottled(src MessageSource, rps float64, burst int) *Throttled {
	return &Throttled{
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *Throttled) Search(ctx context.Context, query string, window SearchWindow) ([]Message, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.src.Search(ctx, query, window)
}

func (t *Throttled) GetThreadReplies(ctx context.Context, channelID, rootID string) ([]Message, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.src.GetThreadReplies(ctx, channelID, rootID)
}

func (t *Throttled) GetMessage(ctx context.Context, channelID, id string) (Message, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Message{}, err
	}
	return t.src.GetMessage(ctx, channelID, id)
}

func (t *Throttled) GetPermalink(ctx context.Context, channelID, id string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.src.GetPermalink(ctx, channelID, id)
}

var _ MessageSource = (*Throttled)(nil)
