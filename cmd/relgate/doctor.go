package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relgate/relgate/internal/chat"
	"github.com/relgate/relgate/internal/tracker"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity to the chat platform, tracker, and model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		// Chat platform: a token and a resolvable channel are the
		// minimum for any run.
		if cfg.Chat.Token == "" {
			fmt.Printf("%s chat: no token configured (set SLACK_TOKEN)\n", red("✗"))
		} else {
			client := chat.NewClient(cfg.Chat.Token)
			ch := channel
			if ch == "" {
				ch = cfg.Chat.Channel
			}
			if ch == "" {
				fmt.Printf("%s chat: token set, no channel to probe\n", yellow("?"))
			} else if _, err := client.ResolveChannel(ctx, ch); err != nil {
				fmt.Printf("%s chat: %v\n", red("✗"), err)
			} else {
				fmt.Printf("%s chat: channel %s reachable\n", green("✓"), ch)
			}
		}

		// Semantic model: probe fresh, not from cache.
		gen := cfg.BuildGenerator()
		switch {
		case gen == nil:
			fmt.Printf("%s semantic: backend off (heuristics only)\n", yellow("-"))
		default:
			gen.Reset()
			if gen.Available(ctx) {
				fmt.Printf("%s semantic: %s backend available\n", green("✓"), cfg.Semantic.Backend)
			} else {
				fmt.Printf("%s semantic: %s backend unavailable (runs degrade to heuristics)\n", yellow("⚠"), cfg.Semantic.Backend)
			}
		}

		// Tracker: URL construction always works; credentials are
		// optional and only needed for enrichment. With --ticket we go
		// one step further and fetch a real ticket through the API.
		tc, err := tracker.NewClient(cfg.Tracker)
		switch {
		case err != nil:
			fmt.Printf("%s tracker: %v\n", yellow("⚠"), err)
		case !tc.CanEnrich():
			fmt.Printf("%s tracker: browse URLs only (no API credentials)\n", yellow("-"))
		case doctorTicket == "":
			fmt.Printf("%s tracker: API credentials configured (pass --ticket KEY-123 to test a lookup)\n", green("✓"))
		default:
			summary, status, err := tc.Lookup(ctx, doctorTicket)
			if err != nil {
				fmt.Printf("%s tracker: %v\n", red("✗"), err)
			} else {
				fmt.Printf("%s tracker: %s [%s] %s\n", green("✓"), doctorTicket, status, summary)
			}
		}
		return nil
	},
}

var doctorTicket string

func init() {
	doctorCmd.Flags().StringVar(&doctorTicket, "ticket", "", "ticket key to look up as a tracker API test")
	rootCmd.AddCommand(doctorCmd)
}
