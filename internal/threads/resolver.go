// Package threads expands seed messages into full thread contexts.
// Faults are isolated per thread: one unfetchable thread degrades to a
// single-message context instead of sinking the stage.
package threads

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/relgate/relgate/internal/chat"
	"github.com/relgate/relgate/internal/types"
	"golang.org/x/sync/semaphore"
)

// Resolver expands messages into thread contexts.
type Resolver struct {
	source chat.MessageSource

	// maxParallel bounds concurrent thread fetches so a large seed set
	// does not stampede the platform API.
	maxParallel int64
}

// NewResolver returns a resolver with a default parallelism bound.
func NewResolver(source chat.MessageSource) *Resolver {
	return &Resolver{source: source, maxParallel: 8}
}

// Resolve expands one message into its thread context. It never fails:
// if no thread identity can be determined, or the fetch errors, the
// context degrades to the seed message alone.
func (r *Resolver) Resolve(ctx context.Context, msg types.Message) types.ThreadContext {
	rootID := threadIdentity(msg)
	if rootID == "" {
		return types.ThreadContext{Root: msg}
	}

	// When the seed is itself a reply, fetch the real root so the
	// context starts at the top of the conversation.
	root := msg
	if rootID != msg.ID {
		if fetched, err := r.source.GetMessage(ctx, msg.ChannelID, rootID); err == nil {
			root = chat.ToModel(fetched)
		} else {
			slog.Debug("thread root fetch failed, keeping seed as root",
				"message", msg.ID, "root", rootID, "error", err)
		}
	}

	replies, err := r.source.GetThreadReplies(ctx, msg.ChannelID, rootID)
	if err != nil {
		slog.Warn("thread expansion failed, degrading to single message",
			"message", msg.ID, "root", rootID, "error", err)
		return types.ThreadContext{Root: msg}
	}

	tc := types.ThreadContext{Root: root}
	for _, reply := range replies {
		if reply.ID == root.ID {
			continue
		}
		tc.Replies = append(tc.Replies, chat.ToModel(reply))
	}
	return tc
}

// ResolveAll expands every seed in parallel. Results keep the input
// order; no ordering is guaranteed between the fetches themselves, and
// none is needed downstream.
func (r *Resolver) ResolveAll(ctx context.Context, msgs []types.Message) []types.ThreadContext {
	sem := semaphore.NewWeighted(r.maxParallel)
	out := make([]types.ThreadContext, len(msgs))
	var wg sync.WaitGroup
	for i, m := range msgs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: degrade the rest to seed-only contexts.
			out[i] = types.ThreadContext{Root: m}
			continue
		}
		wg.Add(1)
		go func(i int, m types.Message) {
			defer wg.Done()
			defer sem.Release(1)
			out[i] = r.Resolve(ctx, m)
		}(i, m)
	}
	wg.Wait()
	return out
}

// threadIdentity determines the thread root id for a message: its own
// thread pointer when present, otherwise a thread reference parsed from
// its permalink fragment. Empty means the message stands alone.
func threadIdentity(msg types.Message) string {
	if msg.ThreadRootID != "" {
		return msg.ThreadRootID
	}
	if msg.ReplyCount > 0 {
		// A root with replies threads under its own id.
		return msg.ID
	}
	if ts := threadFromPermalink(msg.Permalink); ts != "" {
		return ts
	}
	return ""
}

// threadFromPermalink extracts the thread_ts query parameter from an
// archive permalink. Malformed links yield "".
func threadFromPermalink(link string) string {
	if link == "" || !strings.Contains(link, "thread_ts=") {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Query().Get("thread_ts")
}
