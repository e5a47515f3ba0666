package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relgate/relgate/internal/pipeline"
	"github.com/relgate/relgate/internal/semantic"
)

var testsCmd = &cobra.Command{
	Use:   "tests",
	Short: "Classify automated test failures for a day",
	Long: `Find the test bot's failure posts in the channel, read the human
replies in their threads, and report a per-test verdict: resolved,
flaky, tracked, still failing, and so on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		detCfg, source, err := buildRun(ctx)
		if err != nil {
			return err
		}

		classifier := semantic.NewClassifier(cfg.BuildGenerator())
		classifier.ConfidenceFloor = cfg.Semantic.ConfidenceFloor

		p := pipeline.New(source, classifier).WithRuleConfig(cfg.Rules)
		res, err := p.RunTests(ctx, detCfg)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		printTestResults(res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testsCmd)
}

func printTestResults(res *pipeline.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	if res.Partial {
		fmt.Println(yellow("⚠ partial results: some searches or threads were unavailable"))
	}
	if len(res.TestResults) == 0 {
		fmt.Println(green("✓ no failing tests found"))
		return
	}

	names := make([]string, 0, len(res.TestResults))
	for name := range res.TestResults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := res.TestResults[name]
		label := string(v.Status)
		switch {
		case !v.Status.Actionable():
			label = green(label)
		case v.UsedSemanticModel:
			label = yellow(label)
		default:
			label = red(label)
		}
		fmt.Printf("%-50s %s (%d%%)\n", name, label, v.Confidence)
	}
	fmt.Printf("\n%d test(s), run %s in %v\n", len(res.TestResults), res.RunID, res.Duration.Round(time.Millisecond))
}
