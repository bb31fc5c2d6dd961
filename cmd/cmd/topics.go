package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"trender/internal/config"
)

// NewTopicsCmd creates the topics command for running per-topic scopes.
func NewTopicsCmd() *cobra.Command {
	var windowHours int

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Run the pipeline once per configured topic",
		Long: `Topics filters recent items into each enabled topic scope, clusters and
scores the matches, and prints the per-topic picks. Topics whose
cadence has not elapsed since their last run are skipped.

Examples:
  trender topics
  trender topics --window 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics(cmd.Context(), windowHours)
		},
	}

	cmd.Flags().IntVar(&windowHours, "window", 0, "recency window in hours (default from config)")

	return cmd
}

func runTopics(ctx context.Context, windowHours int) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if windowHours <= 0 {
		windowHours = cfg.Pipeline.WindowHours
	}

	orch, st, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := orch.RunTopics(ctx, windowHours)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No topics ran (none configured, or all within cadence)")
		return nil
	}

	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		sel := results[key]
		fmt.Printf("Topic %s: %d picks\n", key, sel.TotalPicks())
		for _, pick := range sel.TopicPicks {
			printPick(pick)
		}
	}
	return nil
}
