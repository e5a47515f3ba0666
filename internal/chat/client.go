package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIBase is the chat platform's web API root.
const DefaultAPIBase = "https://slack.com/api"

// Client is a minimal MessageSource implementation over the platform's
// web API. Transport concerns stay here; the pipeline only ever sees
// the MessageSource interface.
type Client struct {
	base  string
	token string
	http  *http.Client
	cache *ChannelCache
}

// NewClient builds a client with the given bot token.
func NewClient(token string) *Client {
	return &Client{
		base:  DefaultAPIBase,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
		cache: NewChannelCache(),
	}
}

// WithBaseURL overrides the API root. Used by tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.base = strings.TrimSuffix(base, "/")
	return c
}

// apiMessage is the wire shape of a message.
type apiMessage struct {
	TS          string  `json:"ts"`
	Text        string  `json:"text"`
	User        string  `json:"user"`
	Username    string  `json:"username"`
	BotID       string  `json:"bot_id"`
	ThreadTS    string  `json:"thread_ts"`
	ReplyCount  int     `json:"reply_count"`
	Blocks      []Block `json:"blocks"`
	Permalink   string  `json:"permalink"`
	ChannelInfo struct {
		ID string `json:"id"`
	} `json:"channel"`
}

func (c *Client) toMessage(m apiMessage, channelID string) Message {
	if m.ChannelInfo.ID != "" {
		channelID = m.ChannelInfo.ID
	}
	author := m.User
	if author == "" {
		author = m.Username
	}
	rootID := m.ThreadTS
	if rootID == m.TS {
		rootID = "" // a thread root does not point at itself
	}
	return Message{
		ID:           m.TS,
		ChannelID:    channelID,
		Author:       author,
		Text:         m.Text,
		Blocks:       m.Blocks,
		ThreadRootID: rootID,
		ReplyCount:   m.ReplyCount,
		BotID:        m.BotID,
		Timestamp:    tsToTime(m.TS),
		Permalink:    m.Permalink,
	}
}

// tsToTime converts a platform message id ("1717029203.000100") to a
// timestamp. Malformed ids yield the zero time; reconciliation sorts
// them first, which is the conservative choice.
func tsToTime(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	dec := json.NewDecoder(resp.Body)
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s envelope: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s API error: %s", method, envelope.Error)
	}
	return json.Unmarshal(raw, out)
}

// Search implements MessageSource using the search API, scoped to the
// channel and date window.
func (c *Client) Search(ctx context.Context, query string, window SearchWindow) ([]Message, error) {
	after := window.Date.AddDate(0, 0, -1).Format("2006-01-02")
	before := window.Date.AddDate(0, 0, 1).Format("2006-01-02")
	scoped := fmt.Sprintf("%s in:<#%s> after:%s before:%s", query, window.ChannelID, after, before)

	params := url.Values{"query": {scoped}, "count": {"100"}}
	var out struct {
		Messages struct {
			Matches []apiMessage `json:"matches"`
		} `json:"messages"`
	}
	if err := c.call(ctx, "search.messages", params, &out); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(out.Messages.Matches))
	for _, m := range out.Messages.Matches {
		msgs = append(msgs, c.toMessage(m, window.ChannelID))
	}
	return msgs, nil
}

// GetThreadReplies implements MessageSource over the replies API.
func (c *Client) GetThreadReplies(ctx context.Context, channelID, rootID string) ([]Message, error) {
	params := url.Values{"channel": {channelID}, "ts": {rootID}, "limit": {"200"}}
	var out struct {
		Messages []apiMessage `json:"messages"`
	}
	if err := c.call(ctx, "conversations.replies", params, &out); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		if m.TS == rootID {
			continue
		}
		msgs = append(msgs, c.toMessage(m, channelID))
	}
	return msgs, nil
}

// GetMessage fetches a single message via a one-element history window.
func (c *Client) GetMessage(ctx context.Context, channelID, id string) (Message, error) {
	params := url.Values{
		"channel":   {channelID},
		"latest":    {id},
		"oldest":    {id},
		"inclusive": {"true"},
		"limit":     {"1"},
	}
	var out struct {
		Messages []apiMessage `json:"messages"`
	}
	if err := c.call(ctx, "conversations.history", params, &out); err != nil {
		return Message{}, err
	}
	if len(out.Messages) == 0 {
		return Message{}, fmt.Errorf("message %s not found in channel %s", id, channelID)
	}
	return c.toMessage(out.Messages[0], channelID), nil
}

// GetPermalink resolves a browsable link for a message.
func (c *Client) GetPermalink(ctx context.Context, channelID, id string) (string, error) {
	params := url.Values{"channel": {channelID}, "message_ts": {id}}
	var out struct {
		Permalink string `json:"permalink"`
	}
	if err := c.call(ctx, "chat.getPermalink", params, &out); err != nil {
		return "", err
	}
	return out.Permalink, nil
}

// ResolveChannel maps a channel name to its id, consulting the
// process-lifetime cache first.
func (c *Client) ResolveChannel(ctx context.Context, name string) (string, error) {
	name = strings.TrimPrefix(name, "#")
	if id, ok := c.cache.Get(name); ok {
		return id, nil
	}
	params := url.Values{"limit": {"1000"}, "types": {"public_channel,private_channel"}}
	var out struct {
		Channels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channels"`
	}
	if err := c.call(ctx, "conversations.list", params, &out); err != nil {
		return "", err
	}
	for _, ch := range out.Channels {
		c.cache.Put(ch.Name, ch.ID)
	}
	if id, ok := c.cache.Get(name); ok {
		return id, nil
	}
	return "", fmt.Errorf("channel %q not found", name)
}

var _ MessageSource = (*Client)(nil)
