package cmd

import (
	"fmt"
	"time"

	"trender/internal/cluster"
	"trender/internal/config"
	"trender/internal/core"
	"trender/internal/embed"
	"trender/internal/match"
	"trender/internal/pipeline"
	"trender/internal/score"
	"trender/internal/selection"
	"trender/internal/store"
	"trender/internal/topics"
)

// buildOrchestrator wires the full pipeline against the SQLite store. The
// caller owns the returned store and must close it.
func buildOrchestrator(cfg *config.Config) (*pipeline.Orchestrator, *store.Store, error) {
	st, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	allocID, err := st.ClusterIDAllocator()
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("initializing cluster id allocator: %w", err)
	}

	clusterer, err := cluster.New(
		embed.NewHashingEmbedderWithDim(cfg.Clustering.EmbeddingDim),
		cfg.Clustering.SimilarityThreshold,
		cluster.WithStrategy(cluster.Strategy(cfg.Clustering.Strategy)),
		cluster.WithMinClusterSize(cfg.Clustering.MinClusterSize),
		cluster.WithIDAllocator(allocID),
	)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("building clusterer: %w", err)
	}

	scorer := score.NewScorer(
		score.NewMemoryHistoryCache(),
		score.WithWeights(score.Weights{
			Viral:     cfg.Scoring.ViralWeight,
			Freshness: cfg.Scoring.FreshnessWeight,
			Diversity: cfg.Scoring.DiversityWeight,
			Volume:    cfg.Scoring.VolumeWeight,
			Quality:   cfg.Scoring.QualityWeight,
		}),
		score.WithTauHours(cfg.Scoring.TauHours),
		score.WithMinItems(cfg.Scoring.MinItems),
	)

	selector := selection.NewSelector(
		selection.WithDuplicateThreshold(cfg.Selection.DuplicateThreshold),
	)

	topicsFile := cfg.Pipeline.TopicsFile
	loadTopics := func() ([]core.TopicConfig, error) {
		return topics.Load(topicsFile)
	}

	orch := pipeline.NewOrchestrator(
		st,
		loadTopics,
		match.NewMatcher(),
		clusterer,
		scorer,
		selector,
		pipeline.WithSink(st),
		pipeline.WithGlobalConfig(selection.GlobalConfig{
			KGlobal:        cfg.Selection.KGlobal,
			MaxPostsPerRun: cfg.Selection.MaxPostsPerRun,
		}),
		pipeline.WithTopicConcurrency(cfg.Pipeline.TopicConcurrency),
	)
	return orch, st, nil
}

// parseDuration falls back to a default when the configured value is
// empty or malformed.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
