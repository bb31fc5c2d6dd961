package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"trender/internal/config"
	"trender/internal/core"
)

// NewTrendCmd creates the trend command for running the global pipeline.
func NewTrendCmd() *cobra.Command {
	var (
		windowHours int
		kGlobal     int
	)

	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Run the global trending pipeline over recent items",
		Long: `Trend clusters every item in the recency window, scores the clusters,
and prints the top global picks.

Examples:
  # Default 24-hour window, top picks from config
  trender trend

  # Wider window, fewer picks
  trender trend --window 48 --top 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrend(cmd.Context(), windowHours, kGlobal)
		},
	}

	cmd.Flags().IntVar(&windowHours, "window", 0, "recency window in hours (default from config)")
	cmd.Flags().IntVar(&kGlobal, "top", 0, "number of global picks (default from config)")

	return cmd
}

func runTrend(ctx context.Context, windowHours, kGlobal int) error {
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

	sel, err := orch.RunTrending(ctx, windowHours, kGlobal)
	if err != nil {
		return err
	}

	if len(sel.GlobalPicks) == 0 {
		fmt.Println("No trending clusters found")
		return nil
	}

	fmt.Printf("Top %d trending clusters (window %dh):\n", len(sel.GlobalPicks), windowHours)
	for _, pick := range sel.GlobalPicks {
		printPick(pick)
	}
	return nil
}

func printPick(p core.SelectedPick) {
	if p.SelectionType == core.SelectionTopic {
		fmt.Printf("  %2d. cluster %-6d score %.3f (adjusted %.3f, topic %s)\n",
			p.Rank, p.ClusterID, p.ScoreTotal, p.AdjustedScore, p.TopicKey)
		return
	}
	fmt.Printf("  %2d. cluster %-6d score %.3f\n", p.Rank, p.ClusterID, p.ScoreTotal)
}
