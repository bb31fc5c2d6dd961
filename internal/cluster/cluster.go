// Package cluster groups raw items into topical clusters by cosine
// similarity over their embeddings. The incremental strategy assigns items
// to the nearest existing centroid and never re-clusters from scratch; the
// batch strategy partitions one item set via a similarity graph.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trender/internal/core"
	"trender/internal/embed"
	"trender/internal/logger"
)

// Strategy selects the clustering mode.
type Strategy string

const (
	StrategyIncremental Strategy = "incremental"
	StrategyBatch       Strategy = "batch"
)

const (
	// DefaultSimilarityThreshold is the cosine similarity an item must reach
	// against a centroid to join that cluster.
	DefaultSimilarityThreshold = 0.78

	// DefaultMinClusterSize is the smallest component kept by the batch
	// strategy.
	DefaultMinClusterSize = 2
)

// Result reports the outcome of one clustering pass.
type Result struct {
	NewClusters     []*core.Cluster
	UpdatedClusters []*core.Cluster
	Assignments     []core.ClusterItem
	Stats           core.ClusterStats
	Coherence       CoherenceReport
}

// Clusterer performs similarity-based clustering of raw items.
type Clusterer struct {
	embedder       embed.Embedder
	threshold      float64
	minClusterSize int
	strategy       Strategy
	nextID         func() int64
	log            zerolog.Logger
	now            func() time.Time
}

// Option customizes a Clusterer.
type Option func(*Clusterer)

// WithStrategy selects the clustering strategy.
func WithStrategy(s Strategy) Option {
	return func(c *Clusterer) { c.strategy = s }
}

// WithMinClusterSize sets the minimum component size kept in batch mode.
func WithMinClusterSize(n int) Option {
	return func(c *Clusterer) { c.minClusterSize = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Clusterer) { c.now = now }
}

// WithIDAllocator supplies cluster ids, for callers that need ids unique
// beyond the clusters passed into a single pass (e.g. store-backed runs).
// Without it, ids continue past the highest existing cluster id.
func WithIDAllocator(next func() int64) Option {
	return func(c *Clusterer) { c.nextID = next }
}

// New creates a Clusterer. The similarity threshold must be in (0, 1].
func New(embedder embed.Embedder, threshold float64, opts ...Option) (*Clusterer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("clusterer requires an embedder")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0, 1], got %f", threshold)
	}
	c := &Clusterer{
		embedder:       embedder,
		threshold:      threshold,
		minClusterSize: DefaultMinClusterSize,
		strategy:       StrategyIncremental,
		log:            logger.Get(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClusterRecentContent clusters items against existing open clusters.
// Items are processed in the order supplied; near-boundary items may land
// differently under a different ordering. Empty input yields an empty
// result, not an error.
func (c *Clusterer) ClusterRecentContent(ctx context.Context, items []core.RawItem, existing []*core.Cluster) (*Result, error) {
	start := c.now()
	result := &Result{Stats: core.ClusterStats{TotalItems: len(items)}}
	if len(items) == 0 {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = embed.ItemText(item.Title, item.Summary, item.Content)
	}
	vectors := c.embedder.Embed(texts)

	switch c.strategy {
	case StrategyBatch:
		c.clusterBatch(items, vectors, result)
	default:
		c.clusterIncremental(items, vectors, existing, result)
	}

	result.Stats.NewClusters = len(result.NewClusters)
	result.Stats.UpdatedClusters = len(result.UpdatedClusters)
	result.Stats.ProcessingTime = c.now().Sub(start)

	vectorsByItem := make(map[string][]float64, len(items))
	for i, item := range items {
		vectorsByItem[item.ID] = vectors[i]
	}
	produced := make([]*core.Cluster, 0, len(result.NewClusters)+len(result.UpdatedClusters))
	produced = append(produced, result.NewClusters...)
	produced = append(produced, result.UpdatedClusters...)
	result.Coherence = EvaluateCoherence(produced, vectorsByItem, result.Assignments, DefaultMinIntraSimilarity)

	c.log.Info().
		Int("total_items", result.Stats.TotalItems).
		Int("items_clustered", result.Stats.ItemsClustered).
		Int("new_clusters", result.Stats.NewClusters).
		Int("updated_clusters", result.Stats.UpdatedClusters).
		Float64("avg_intra_similarity", result.Coherence.AvgIntraSimilarity).
		Msg("Clustering completed")

	if len(result.Coherence.LowCohesion) > 0 {
		c.log.Warn().
			Ints64("cluster_ids", result.Coherence.LowCohesion).
			Msg("Clusters with low cohesion")
	}

	return result, nil
}

func (c *Clusterer) clusterIncremental(items []core.RawItem, vectors [][]float64, existing []*core.Cluster, result *Result) {
	open := make([]*core.Cluster, 0, len(existing))
	var maxID int64
	for _, cl := range existing {
		if cl.ID > maxID {
			maxID = cl.ID
		}
		if cl.Status == core.ClusterStatusOpen && len(cl.Centroid) > 0 {
			open = append(open, cl)
		}
	}
	alloc := c.nextID
	if alloc == nil {
		counter := maxID
		alloc = func() int64 {
			counter++
			return counter
		}
	}
	updated := make(map[int64]*core.Cluster)

	for i, item := range items {
		vec := vectors[i]
		if isZero(vec) {
			// Embedding failure for one item must not abort the pass.
			c.log.Debug().Str("item_id", item.ID).Msg("Skipping item with empty embedding")
			continue
		}

		best, similarity := c.findBestCluster(vec, open)
		if best != nil {
			c.attachItem(best, item, vec, similarity)
			if _, isNew := updated[best.ID]; !isNew && !containsCluster(result.NewClusters, best.ID) {
				updated[best.ID] = best
			}
			result.Assignments = append(result.Assignments, core.ClusterItem{
				ClusterID:    best.ID,
				RawItemID:    item.ID,
				SourceDomain: item.Domain,
				Similarity:   clamp01(similarity),
				CreatedAt:    c.now().UTC(),
			})
		} else {
			fresh := c.newCluster(alloc(), item, vec)
			open = append(open, fresh)
			result.NewClusters = append(result.NewClusters, fresh)
			result.Assignments = append(result.Assignments, core.ClusterItem{
				ClusterID:    fresh.ID,
				RawItemID:    item.ID,
				SourceDomain: item.Domain,
				Similarity:   1.0,
				CreatedAt:    c.now().UTC(),
			})
		}
		result.Stats.ItemsClustered++
	}

	for _, cl := range updated {
		result.UpdatedClusters = append(result.UpdatedClusters, cl)
	}
}

// clusterBatch partitions items via connected components of the similarity
// graph, discarding components below the minimum cluster size.
func (c *Clusterer) clusterBatch(items []core.RawItem, vectors [][]float64, result *Result) {
	n := len(items)
	usable := make([]bool, n)
	for i := range items {
		usable[i] = !isZero(vectors[i])
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		if !usable[i] {
			continue
		}
		for j := i + 1; j < n; j++ {
			if !usable[j] {
				continue
			}
			if embed.Cosine(vectors[i], vectors[j]) >= c.threshold {
				union(i, j)
			}
		}
	}

	components := make(map[int][]int)
	for i := 0; i < n; i++ {
		if usable[i] {
			root := find(i)
			components[root] = append(components[root], i)
		}
	}

	alloc := c.nextID
	if alloc == nil {
		var counter int64
		alloc = func() int64 {
			counter++
			return counter
		}
	}
	for i := 0; i < n; i++ {
		members, ok := components[i]
		if !ok || find(i) != i || len(members) < c.minClusterSize {
			continue
		}
		first := items[members[0]]
		fresh := c.newCluster(alloc(), first, vectors[members[0]])
		for _, m := range members[1:] {
			c.attachItem(fresh, items[m], vectors[m], embed.Cosine(vectors[m], fresh.Centroid))
		}
		for _, m := range members {
			result.Assignments = append(result.Assignments, core.ClusterItem{
				ClusterID:    fresh.ID,
				RawItemID:    items[m].ID,
				SourceDomain: items[m].Domain,
				Similarity:   clamp01(embed.Cosine(vectors[m], fresh.Centroid)),
				CreatedAt:    c.now().UTC(),
			})
			result.Stats.ItemsClustered++
		}
		result.NewClusters = append(result.NewClusters, fresh)
	}
}

// findBestCluster returns the open cluster with the highest centroid
// similarity at or above the threshold, or nil.
func (c *Clusterer) findBestCluster(vec []float64, open []*core.Cluster) (*core.Cluster, float64) {
	var best *core.Cluster
	bestSim := 0.0
	for _, cl := range open {
		sim := embed.Cosine(vec, cl.Centroid)
		if sim >= c.threshold && sim > bestSim {
			best = cl
			bestSim = sim
		}
	}
	return best, bestSim
}

func (c *Clusterer) newCluster(id int64, item core.RawItem, vec []float64) *core.Cluster {
	ts := itemTime(item, c.now)
	centroid := make([]float64, len(vec))
	copy(centroid, vec)
	domains := make(map[string]int)
	if item.Domain != "" {
		domains[item.Domain] = 1
	}
	return &core.Cluster{
		ID:         id,
		Centroid:   embed.Normalize(centroid),
		FirstSeen:  ts,
		LastSeen:   ts,
		ItemsCount: 1,
		Domains:    domains,
		Status:     core.ClusterStatusOpen,
	}
}

// attachItem adds an item to a cluster, recomputing the centroid as the
// running mean of member embeddings and renormalizing.
func (c *Clusterer) attachItem(cl *core.Cluster, item core.RawItem, vec []float64, _ float64) {
	count := float64(cl.ItemsCount)
	updated := make([]float64, len(cl.Centroid))
	for i := range updated {
		updated[i] = (cl.Centroid[i]*count + vec[i]) / (count + 1)
	}
	cl.Centroid = embed.Normalize(updated)
	cl.ItemsCount++

	ts := itemTime(item, c.now)
	if ts.After(cl.LastSeen) {
		cl.LastSeen = ts
	}
	if ts.Before(cl.FirstSeen) {
		cl.FirstSeen = ts
	}
	if item.Domain != "" {
		if cl.Domains == nil {
			cl.Domains = make(map[string]int)
		}
		cl.Domains[item.Domain]++
	}
}

func itemTime(item core.RawItem, now func() time.Time) time.Time {
	if !item.PublishedAt.IsZero() {
		return item.PublishedAt
	}
	if !item.FetchedAt.IsZero() {
		return item.FetchedAt
	}
	return now().UTC()
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsCluster(clusters []*core.Cluster, id int64) bool {
	for _, cl := range clusters {
		if cl.ID == id {
			return true
		}
	}
	return false
}
