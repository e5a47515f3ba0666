package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relgate/relgate/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent detection runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer func() { _ = store.Close() }()

		runs, err := store.RecentRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no recorded runs")
			return nil
		}

		red := color.New(color.FgRed).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		for _, r := range runs {
			blockers := green("0 blocking")
			if r.Blocking > 0 {
				blockers = red(fmt.Sprintf("%d blocking", r.Blocking))
			}
			partial := ""
			if r.Partial {
				partial = " (partial)"
			}
			fmt.Printf("%s  %-12s %s, %d critical, %d resolved, %d tests  %v%s\n",
				r.Date, r.Channel, blockers, r.Critical, r.Resolved, r.Tests,
				r.Duration.Round(time.Millisecond), partial)
		}

		// Day-over-day movement between the two most recent dates.
		if len(runs) >= 2 && runs[0].Date != runs[1].Date {
			delta, err := store.Delta(ctx, runs[0].Channel, runs[1].Date, runs[0].Date)
			if err == nil && delta != 0 {
				direction := "up"
				if delta < 0 {
					direction = "down"
					delta = -delta
				}
				fmt.Printf("\nblockers %s %d since %s\n", direction, delta, runs[1].Date)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
