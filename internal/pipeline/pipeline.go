// Package pipeline wires the trending stages together: load items,
// cluster, score, select. It exposes a global trending run and a
// per-topic run with cadence control.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trender/internal/cluster"
	"trender/internal/core"
	"trender/internal/logger"
	"trender/internal/match"
	"trender/internal/score"
	"trender/internal/selection"
)

// ItemSource loads recent raw items from storage or another collaborator.
type ItemSource interface {
	GetRecentRawItems(windowHours int) ([]core.RawItem, error)
}

// ClusterSink persists clustering and scoring output. Implementations may
// be nil-safe no-ops; the orchestrator skips persistence when no sink is
// configured.
type ClusterSink interface {
	UpsertCluster(cluster *core.Cluster) error
	AttachItemToCluster(ci core.ClusterItem) error
	UpdateClusterScores(metrics []core.ClusterMetrics) error
	LoadOpenClusters(topicKey string) ([]*core.Cluster, error)
	GetItemsForCluster(clusterID int64) ([]core.RawItem, error)
}

// TopicsLoader supplies the enabled topic configurations.
type TopicsLoader func() ([]core.TopicConfig, error)

// CadenceState tracks per-topic last-run times so a topic is not rerun
// before its cadence elapses. Safe for concurrent use; state lives for
// the process lifetime.
type CadenceState struct {
	mu      sync.Mutex
	lastRun map[string]time.Time
	now     func() time.Time
}

// NewCadenceState creates an empty cadence tracker.
func NewCadenceState() *CadenceState {
	return &CadenceState{lastRun: make(map[string]time.Time), now: time.Now}
}

// NewCadenceStateWithClock creates a cadence tracker with a custom time
// source.
func NewCadenceStateWithClock(now func() time.Time) *CadenceState {
	return &CadenceState{lastRun: make(map[string]time.Time), now: now}
}

// ShouldRun reports whether the topic may run now and, if so, records the
// run.
func (c *CadenceState) ShouldRun(topicKey string, cadence time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.lastRun[topicKey]; ok && cadence > 0 && now.Sub(last) < cadence {
		return false
	}
	c.lastRun[topicKey] = now
	return true
}

// Orchestrator runs the trending pipeline.
type Orchestrator struct {
	items       ItemSource
	sink        ClusterSink
	loadTopics  TopicsLoader
	matcher     *match.Matcher
	clusterer   *cluster.Clusterer
	scorer      *score.Scorer
	selector    *selection.Selector
	globalCfg   selection.GlobalConfig
	cadence     *CadenceState
	concurrency int
	log         zerolog.Logger

	statsMu   sync.Mutex
	lastStats core.PipelineStats
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets the persistence sink for clusters and scores.
func WithSink(sink ClusterSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithCadenceState injects a shared cadence tracker.
func WithCadenceState(c *CadenceState) Option {
	return func(o *Orchestrator) { o.cadence = c }
}

// WithTopicConcurrency bounds how many topics run in parallel.
func WithTopicConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithGlobalConfig sets the global selection limits.
func WithGlobalConfig(cfg selection.GlobalConfig) Option {
	return func(o *Orchestrator) { o.globalCfg = cfg }
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	items ItemSource,
	loadTopics TopicsLoader,
	matcher *match.Matcher,
	clusterer *cluster.Clusterer,
	scorer *score.Scorer,
	selector *selection.Selector,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		items:       items,
		loadTopics:  loadTopics,
		matcher:     matcher,
		clusterer:   clusterer,
		scorer:      scorer,
		selector:    selector,
		globalCfg:   selection.GlobalConfig{KGlobal: 10, MaxPostsPerRun: 100},
		cadence:     NewCadenceState(),
		concurrency: 4,
		log:         logger.Get(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTrending executes the unscoped pipeline: cluster all recent items,
// score the clusters, select global picks. Failure to load items aborts
// the run with an empty Selection.
func (o *Orchestrator) RunTrending(ctx context.Context, windowHours, kGlobal int) (core.Selection, error) {
	started := time.Now()
	o.log.Info().Int("window_hours", windowHours).Int("k_global", kGlobal).Msg("Starting trending run")

	items, err := o.items.GetRecentRawItems(windowHours)
	if err != nil {
		o.log.Error().Err(err).Msg("Failed to load recent items")
		return core.Selection{}, fmt.Errorf("loading recent items: %w", err)
	}
	if len(items) == 0 {
		o.log.Info().Msg("No recent items in window")
		return core.Selection{}, nil
	}

	cfg := o.globalCfg
	if kGlobal > 0 {
		cfg.KGlobal = kGlobal
	}

	sel, stats, err := o.runStages(ctx, items, "", nil, cfg)
	if err != nil {
		return core.Selection{}, err
	}

	stats.WindowHours = windowHours
	stats.StartedAt = started.UTC()
	stats.CompletedAt = time.Now().UTC()
	o.recordStats(stats)

	o.log.Info().
		Int("items", len(items)).
		Int("picks", sel.TotalPicks()).
		Dur("elapsed", time.Since(started)).
		Msg("Trending run completed")
	return sel, nil
}

// LastStats returns the stats of the most recent trending run.
func (o *Orchestrator) LastStats() core.PipelineStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.lastStats
}

func (o *Orchestrator) recordStats(stats core.PipelineStats) {
	o.statsMu.Lock()
	o.lastStats = stats
	o.statsMu.Unlock()
}

// RunTopics executes the pipeline once per enabled topic whose cadence
// has elapsed, bounded by the configured concurrency. A failing topic is
// logged and yields an empty Selection; topics skipped by cadence are
// omitted from the result.
func (o *Orchestrator) RunTopics(ctx context.Context, windowHours int) (map[string]core.Selection, error) {
	topicConfigs, err := o.loadTopics()
	if err != nil {
		return nil, fmt.Errorf("loading topics: %w", err)
	}
	if len(topicConfigs) == 0 {
		o.log.Info().Msg("No topics configured")
		return map[string]core.Selection{}, nil
	}

	items, err := o.items.GetRecentRawItems(windowHours)
	if err != nil {
		o.log.Error().Err(err).Msg("Failed to load recent items")
		return map[string]core.Selection{}, fmt.Errorf("loading recent items: %w", err)
	}

	results := make(map[string]core.Selection)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, topic := range topicConfigs {
		if !topic.Enabled {
			continue
		}
		if !o.cadence.ShouldRun(topic.TopicKey, time.Duration(topic.CadenceMinutes)*time.Minute) {
			o.log.Debug().Str("topic", topic.TopicKey).Msg("Skipping topic, cadence not elapsed")
			continue
		}

		g.Go(func() error {
			sel := o.runTopic(gctx, topic, items)
			mu.Lock()
			results[topic.TopicKey] = sel
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	o.log.Info().Int("topics", len(results)).Msg("Topic runs completed")
	return results, nil
}

// runTopic processes one topic end to end. Errors are contained here so
// one topic cannot abort the others.
func (o *Orchestrator) runTopic(ctx context.Context, topic core.TopicConfig, items []core.RawItem) core.Selection {
	scored := o.matcher.FilterItemsByTopic(items, topic)
	if len(scored) == 0 {
		o.log.Info().Str("topic", topic.TopicKey).Msg("No items matched topic")
		return core.Selection{}
	}

	topicItems := make([]core.RawItem, len(scored))
	for i, s := range scored {
		topicItems[i] = s.Item
	}

	sel, _, err := o.runStages(ctx, topicItems, topic.TopicKey, []core.TopicConfig{topic}, selection.GlobalConfig{})
	if err != nil {
		o.log.Error().Err(err).Str("topic", topic.TopicKey).Msg("Topic run failed")
		return core.Selection{}
	}
	return sel
}

// runStages runs cluster -> score -> select over one item set. When
// topicKey is set, every produced cluster is scoped to that topic and
// selection is topic-only. The context is checked between stages.
func (o *Orchestrator) runStages(
	ctx context.Context,
	items []core.RawItem,
	topicKey string,
	topicConfigs []core.TopicConfig,
	globalCfg selection.GlobalConfig,
) (core.Selection, core.PipelineStats, error) {
	stats := core.PipelineStats{
		ItemsLoaded:    len(items),
		StageDurations: make(map[string]time.Duration),
	}
	stageStart := time.Now()

	var existing []*core.Cluster
	attached := make(map[string]bool)
	if o.sink != nil {
		loaded, err := o.sink.LoadOpenClusters(topicKey)
		if err != nil {
			o.log.Error().Err(err).Str("topic", topicKey).Msg("Failed to load open clusters, starting fresh")
		} else {
			existing = loaded
		}
		for _, cl := range existing {
			members, err := o.sink.GetItemsForCluster(cl.ID)
			if err != nil {
				o.log.Error().Err(err).Int64("cluster_id", cl.ID).Msg("Failed to load cluster members")
				continue
			}
			for _, member := range members {
				attached[member.ID] = true
			}
		}
	}

	// Items already attached to a loaded cluster stay out of the
	// clustering input. Re-attaching them would double-count the
	// cluster's item and domain tallies and skew its centroid.
	toCluster := items
	if len(attached) > 0 {
		toCluster = make([]core.RawItem, 0, len(items))
		for _, item := range items {
			if !attached[item.ID] {
				toCluster = append(toCluster, item)
			}
		}
	}

	result, err := o.clusterer.ClusterRecentContent(ctx, toCluster, existing)
	if err != nil {
		return core.Selection{}, stats, fmt.Errorf("clustering: %w", err)
	}
	stats.StageDurations["cluster"] = time.Since(stageStart)

	clusters := make([]*core.Cluster, 0, len(result.NewClusters)+len(result.UpdatedClusters))
	clusters = append(clusters, result.NewClusters...)
	clusters = append(clusters, result.UpdatedClusters...)
	for _, cl := range clusters {
		cl.TopicKey = topicKey
	}

	if err := o.persistClusters(result); err != nil {
		o.log.Error().Err(err).Msg("Failed to persist clusters")
	}

	if err := ctx.Err(); err != nil {
		return core.Selection{}, stats, err
	}

	stageStart = time.Now()
	itemsByCluster := groupItemsByCluster(toCluster, result.Assignments)

	// Updated clusters are scored on their full membership, not just
	// the items attached this pass. The attachments above are already
	// persisted, so the sink returns the complete set.
	if o.sink != nil {
		for _, cl := range result.UpdatedClusters {
			members, err := o.sink.GetItemsForCluster(cl.ID)
			if err != nil {
				o.log.Error().Err(err).Int64("cluster_id", cl.ID).Msg("Failed to load cluster members, scoring this pass's items only")
				continue
			}
			if len(members) > len(itemsByCluster[cl.ID]) {
				itemsByCluster[cl.ID] = members
			}
		}
	}

	metrics := o.scorer.ScoreAllClusters(clusters, itemsByCluster)
	o.scorer.RecordCounts(itemsByCluster)
	stats.ClustersScored = len(metrics)
	stats.StageDurations["score"] = time.Since(stageStart)

	if err := o.persistScores(metrics); err != nil {
		o.log.Error().Err(err).Msg("Failed to persist scores")
	}

	if err := ctx.Err(); err != nil {
		return core.Selection{}, stats, err
	}

	stageStart = time.Now()
	mapping := make(map[int64]string)
	centroids := make(map[int64][]float64)
	for _, cl := range clusters {
		if cl.TopicKey != "" {
			mapping[cl.ID] = cl.TopicKey
		}
		if len(cl.Centroid) > 0 {
			centroids[cl.ID] = cl.Centroid
		}
	}

	sel := o.selector.SelectFinalPicks(metrics, globalCfg, topicConfigs, mapping, centroids)
	stats.PicksSelected = sel.TotalPicks()
	stats.StageDurations["select"] = time.Since(stageStart)
	return sel, stats, nil
}

func (o *Orchestrator) persistClusters(result *cluster.Result) error {
	if o.sink == nil {
		return nil
	}
	for _, cl := range result.NewClusters {
		if err := o.sink.UpsertCluster(cl); err != nil {
			return err
		}
	}
	for _, cl := range result.UpdatedClusters {
		if err := o.sink.UpsertCluster(cl); err != nil {
			return err
		}
	}
	for _, ci := range result.Assignments {
		if err := o.sink.AttachItemToCluster(ci); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) persistScores(metrics []core.ClusterMetrics) error {
	if o.sink == nil || len(metrics) == 0 {
		return nil
	}
	return o.sink.UpdateClusterScores(metrics)
}

// groupItemsByCluster resolves assignments back to full items for
// scoring.
func groupItemsByCluster(items []core.RawItem, assignments []core.ClusterItem) map[int64][]core.RawItem {
	byID := make(map[string]core.RawItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	grouped := make(map[int64][]core.RawItem)
	for _, a := range assignments {
		if item, ok := byID[a.RawItemID]; ok {
			grouped[a.ClusterID] = append(grouped[a.ClusterID], item)
		}
	}
	return grouped
}
