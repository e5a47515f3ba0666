// relgate decides whether today's release is blocked, and by what, from
// the traffic in a release channel.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relgate/relgate/internal/config"
)

var (
	cfgPath string
	channel string
	dateArg string
	verbose bool

	// cfg is loaded once in the root PersistentPreRun and shared by
	// subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "relgate",
	Short: "Release-readiness detection from channel traffic",
	Long: `relgate aggregates chat traffic from a release channel to decide,
for a given day, whether a software release is blocked and by what.

It fans out keyword searches, expands threads, classifies messages with
a deterministic rule engine (optionally refined by a local language
model), and reconciles conflicting signals so that a blocker's status
is whatever was said most recently.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&channel, "channel", "", "release channel name or id")
	rootCmd.PersistentFlags().StringVar(&dateArg, "date", "", "detection date (YYYY-MM-DD, default today)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
