package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relgate/relgate/internal/chat"
	"github.com/relgate/relgate/internal/history"
	"github.com/relgate/relgate/internal/pipeline"
	"github.com/relgate/relgate/internal/semantic"
	"github.com/relgate/relgate/internal/tracker"
	"github.com/relgate/relgate/internal/types"
)

var (
	severityFlag string
	noHistory    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run issue detection for a day",
	Long: `Run the detection pipeline and report release-blocking issues.

Examples:
  # Check today's release channel
  relgate check --channel release-room

  # Check a past date, blockers only
  relgate check --channel release-room --date 2026-08-28 --severity blocking`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		detCfg, source, err := buildRun(ctx)
		if err != nil {
			return err
		}
		detCfg.Severity = types.SeverityFilter(severityFlag)

		classifier := semantic.NewClassifier(cfg.BuildGenerator())
		classifier.ConfidenceFloor = cfg.Semantic.ConfidenceFloor

		p := pipeline.New(source, classifier).WithRuleConfig(cfg.Rules)
		res, err := p.Run(ctx, detCfg)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		if tc, terr := tracker.NewClient(cfg.Tracker); terr == nil {
			res.Issues = tc.Enrich(ctx, res.Issues)
		}

		printIssues(res)
		if !noHistory {
			recordRun(ctx, detCfg, res)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&severityFlag, "severity", "both", "severity filter: blocking, critical, or both")
	checkCmd.Flags().BoolVar(&noHistory, "no-history", false, "skip recording the run in history")
	rootCmd.AddCommand(checkCmd)
}

// buildRun assembles the per-run detection config and the throttled
// message source shared by check and tests.
func buildRun(ctx context.Context) (types.DetectionConfig, chat.MessageSource, error) {
	ch := channel
	if ch == "" {
		ch = cfg.Chat.Channel
	}
	if ch == "" {
		return types.DetectionConfig{}, nil, fmt.Errorf("no channel configured (use --channel or chat.channel)")
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if dateArg != "" {
		parsed, err := time.Parse("2006-01-02", dateArg)
		if err != nil {
			return types.DetectionConfig{}, nil, fmt.Errorf("invalid --date %q: %w", dateArg, err)
		}
		date = parsed
	}

	client := chat.NewClient(cfg.Chat.Token)
	if !looksLikeChannelID(ch) {
		id, err := client.ResolveChannel(ctx, ch)
		if err != nil {
			return types.DetectionConfig{}, nil, fmt.Errorf("failed to resolve channel %q: %w", ch, err)
		}
		ch = id
	}

	source := chat.NewThrottled(client, cfg.Chat.RPS, cfg.Chat.Burst)
	return types.DetectionConfig{Channel: ch, Date: date}, source, nil
}

var channelIDRegex = regexp.MustCompile(`^[CGD][A-Z0-9]{6,}$`)

func looksLikeChannelID(s string) bool {
	return channelIDRegex.MatchString(s)
}

func printIssues(res *pipeline.Result) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	if res.Partial {
		fmt.Println(yellow("⚠ partial results: some searches or threads were unavailable"))
	}
	if len(res.Issues) == 0 {
		fmt.Println(green("✓ no release-blocking issues found"))
		return
	}

	for _, issue := range res.Issues {
		var label string
		switch issue.Kind {
		case types.KindBlocking:
			label = red("BLOCKING")
		case types.KindCritical:
			label = yellow("CRITICAL")
		case types.KindResolvedBlocking:
			label = green("RESOLVED")
		}
		fmt.Printf("%s  %s\n", label, issueLine(issue))
	}
	fmt.Printf("\n%d issue(s), run %s in %v\n", len(res.Issues), res.RunID, res.Duration.Round(time.Millisecond))
}

func issueLine(issue types.Issue) string {
	if len(issue.Tickets) > 0 {
		parts := make([]string, len(issue.Tickets))
		for i, ref := range issue.Tickets {
			parts[i] = ref.Key
			if ref.Status != "" {
				parts[i] += " [" + ref.Status + "]"
			}
		}
		line := strings.Join(parts, ", ")
		if summary := issue.Tickets[0].Summary; len(issue.Tickets) == 1 && summary != "" {
			line += " — " + firstLine(summary)
		}
		if issue.ResolutionText != "" {
			line += " — " + firstLine(issue.ResolutionText)
		}
		return line
	}
	return firstLine(issue.Text)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

// recordRun best-effort persists the run; history failures never fail
// the command.
func recordRun(ctx context.Context, detCfg types.DetectionConfig, res *pipeline.Result) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history unavailable: %v\n", err)
		return
	}
	defer func() { _ = store.Close() }()

	rec := history.RunRecord{
		ID:        res.RunID,
		Channel:   detCfg.Channel,
		Date:      detCfg.Date.Format("2006-01-02"),
		StartedAt: time.Now().UTC(),
		Duration:  res.Duration,
		Partial:   res.Partial,
		Tests:     len(res.TestResults),
	}
	for _, issue := range res.Issues {
		switch issue.Kind {
		case types.KindBlocking:
			rec.Blocking++
		case types.KindCritical:
			rec.Critical++
		case types.KindResolvedBlocking:
			rec.Resolved++
		}
	}
	if err := store.RecordRun(ctx, rec, res.Issues); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record run: %v\n", err)
	}
}
