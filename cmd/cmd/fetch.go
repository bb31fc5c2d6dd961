package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trender/internal/config"
	"trender/internal/feeds"
	"trender/internal/logger"
	"trender/internal/store"
)

// NewFetchCmd creates the fetch command for ingesting configured feeds.
func NewFetchCmd() *cobra.Command {
	var extraFeeds []string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch configured RSS/Atom feeds into the local store",
		Long: `Fetch pulls every configured feed, normalizes the entries, and saves
them as raw items. Items keep stable ids across refetches, so running
fetch repeatedly is safe.

Examples:
  # Fetch the feeds listed in config
  trender fetch

  # Fetch one extra feed on top of the configured ones
  trender fetch --feed https://example.com/rss.xml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), extraFeeds)
		},
	}

	cmd.Flags().StringSliceVar(&extraFeeds, "feed", nil, "additional feed URL (repeatable)")

	return cmd
}

func runFetch(ctx context.Context, extraFeeds []string) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	urls := append([]string{}, cfg.Feeds.Sources...)
	urls = append(urls, extraFeeds...)
	if len(urls) == 0 {
		return fmt.Errorf("no feeds configured; set feeds.sources or pass --feed")
	}

	fetcher := feeds.NewFetcher(
		feeds.WithTimeout(parseDuration(cfg.Feeds.Timeout, 30*time.Second)),
		feeds.WithRateInterval(parseDuration(cfg.Feeds.RateLimit, time.Second)),
		feeds.WithMaxItemsPerFeed(cfg.Feeds.MaxItemsPerFeed),
		feeds.WithUserAgent(cfg.Feeds.UserAgent),
	)

	items := fetcher.FetchAll(ctx, urls)
	if len(items) == 0 {
		log.Warn().Int("feeds", len(urls)).Msg("No items fetched")
		return nil
	}

	st, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.SaveRawItems(items); err != nil {
		return fmt.Errorf("saving items: %w", err)
	}

	log.Info().Int("feeds", len(urls)).Int("items", len(items)).Msg("Fetch completed")
	fmt.Printf("Fetched %d items from %d feeds\n", len(items), len(urls))
	return nil
}
