// Package tracker resolves ticket references against the issue tracker.
// The pipeline itself never needs the tracker; this client only fills
// in browse URLs and, when configured, enriches reconciled issues with
// ticket summaries for the final report. Every failure here is
// non-fatal.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	jira "github.com/andygrunwald/go-jira"
	"github.com/relgate/relgate/internal/types"
)

// Config holds tracker connection settings. Credentials fall back to
// the conventional JIRA_* environment variables.
type Config struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Username string `yaml:"username" mapstructure:"username"`
	Token    string `yaml:"token" mapstructure:"token"`
}

// Client wraps the tracker API. A client built without credentials
// still constructs browse URLs; only Enrich needs the API.
type Client struct {
	baseURL string
	api     *jira.Client
}

// NewClient builds a tracker client. Only a missing base URL is an
// error: without it not even browse URLs can be built.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("JIRA_URL")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("tracker base URL is required (set tracker.base_url or JIRA_URL)")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	username := cfg.Username
	if username == "" {
		username = os.Getenv("JIRA_USERNAME")
	}
	token := cfg.Token
	if token == "" {
		token = os.Getenv("JIRA_TOKEN")
	}

	c := &Client{baseURL: baseURL}
	if username != "" && token != "" {
		tp := jira.BasicAuthTransport{Username: username, Password: token}
		api, err := jira.NewClient(tp.Client(), baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracker client: %w", err)
		}
		c.api = api
	}
	return c, nil
}

// BrowseURL returns the browsable URL for a ticket key.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// CanEnrich reports whether the client has API credentials.
func (c *Client) CanEnrich() bool {
	return c.api != nil
}

// Enrich fills browse URLs on every ticket reference and, when the API
// is available, the ticket's summary and current tracker status for the
// final report. Lookup failures are logged and skipped; enrichment
// never changes an issue's kind or tickets.
func (c *Client) Enrich(ctx context.Context, issues []types.Issue) []types.Issue {
	for i := range issues {
		for t := range issues[i].Tickets {
			ref := &issues[i].Tickets[t]
			if ref.URL == "" {
				ref.URL = c.BrowseURL(ref.Key)
			}
		}
	}
	if c.api == nil {
		return issues
	}

	for i := range issues {
		for t := range issues[i].Tickets {
			ref := &issues[i].Tickets[t]
			ticket, _, err := c.api.Issue.GetWithContext(ctx, ref.Key, nil)
			if err != nil {
				slog.Debug("ticket lookup failed", "key", ref.Key, "error", err)
				continue
			}
			if ticket.Fields == nil {
				continue
			}
			ref.Summary = ticket.Fields.Summary
			ref.Status = statusName(ticket)
			slog.Debug("ticket enriched", "key", ref.Key, "status", ref.Status)
		}
	}
	return issues
}

// Lookup fetches one ticket's summary and status. Used by the doctor
// command to verify tracker connectivity.
func (c *Client) Lookup(ctx context.Context, key string) (summary, status string, err error) {
	if c.api == nil {
		return "", "", fmt.Errorf("tracker API credentials not configured")
	}
	ticket, _, err := c.api.Issue.GetWithContext(ctx, key, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to look up %s: %w", key, err)
	}
	if ticket.Fields == nil {
		return "", "", nil
	}
	return ticket.Fields.Summary, statusName(ticket), nil
}

func statusName(ticket *jira.Issue) string {
	if ticket.Fields != nil && ticket.Fields.Status != nil {
		return ticket.Fields.Status.Name
	}
	return ""
}
