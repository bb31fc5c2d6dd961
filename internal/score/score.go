// Package score computes per-cluster trending metrics and a weighted
// composite used for ranking. Five sub-scores (viral, freshness,
// diversity, volume, quality) are each normalized to [0,1]; the viral
// score compares a cluster's current size against its own item-count
// history kept in a bounded cache.
package score

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trender/internal/core"
	"trender/internal/logger"
)

const (
	// MinItemsForScoring is the smallest cluster that receives real
	// metrics. Smaller clusters get all-zero scores so singletons do not
	// crowd out genuine trends.
	MinItemsForScoring = 3

	// DefaultTauHours is the freshness decay constant.
	DefaultTauHours = 12.0

	// maxHistorySamples bounds the per-cluster count history.
	maxHistorySamples = 30
)

// Weights for the composite score. They are normalized to sum to 1
// before use.
type Weights struct {
	Viral     float64
	Freshness float64
	Diversity float64
	Volume    float64
	Quality   float64
}

// DefaultWeights returns the standard composite weighting.
func DefaultWeights() Weights {
	return Weights{Viral: 0.25, Freshness: 0.20, Diversity: 0.20, Volume: 0.15, Quality: 0.20}
}

func (w Weights) normalized() Weights {
	total := w.Viral + w.Freshness + w.Diversity + w.Volume + w.Quality
	if total == 0 {
		return DefaultWeights()
	}
	return Weights{
		Viral:     w.Viral / total,
		Freshness: w.Freshness / total,
		Diversity: w.Diversity / total,
		Volume:    w.Volume / total,
		Quality:   w.Quality / total,
	}
}

// GlobalStats carries batch-level aggregates used for relative scoring.
type GlobalStats struct {
	AvgClusterSize float64
	TotalClusters  int
	TotalItems     int
}

// HistoryCache stores the rolling item-count time series per cluster,
// consumed by the viral score. Implementations must be safe for
// concurrent use.
type HistoryCache interface {
	AddCount(clusterID int64, count int)
	GetHistory(clusterID int64) []int
}

// MemoryHistoryCache is an in-process HistoryCache bounded to the most
// recent samples per cluster.
type MemoryHistoryCache struct {
	mu   sync.Mutex
	data map[int64][]int
}

// NewMemoryHistoryCache creates an empty in-memory history cache.
func NewMemoryHistoryCache() *MemoryHistoryCache {
	return &MemoryHistoryCache{data: make(map[int64][]int)}
}

// AddCount appends a count sample, evicting the oldest beyond the cap.
func (c *MemoryHistoryCache) AddCount(clusterID int64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := append(c.data[clusterID], count)
	if len(history) > maxHistorySamples {
		history = history[len(history)-maxHistorySamples:]
	}
	c.data[clusterID] = history
}

// GetHistory returns a copy of the stored samples, oldest first.
func (c *MemoryHistoryCache) GetHistory(clusterID int64) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := c.data[clusterID]
	out := make([]int, len(history))
	copy(out, history)
	return out
}

// Scorer computes ClusterMetrics.
type Scorer struct {
	weights  Weights
	tauHours float64
	minItems int
	history  HistoryCache
	log      zerolog.Logger
	now      func() time.Time
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithWeights overrides the composite weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w.normalized() }
}

// WithTauHours overrides the freshness decay constant.
func WithTauHours(tau float64) Option {
	return func(s *Scorer) {
		if tau > 0 {
			s.tauHours = tau
		}
	}
}

// WithMinItems overrides the minimum cluster size for scoring.
func WithMinItems(n int) Option {
	return func(s *Scorer) { s.minItems = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a Scorer backed by the given history cache. A nil
// cache disables the historical trend signal (bootstrap rule applies to
// every cluster).
func NewScorer(history HistoryCache, opts ...Option) *Scorer {
	s := &Scorer{
		weights:  DefaultWeights().normalized(),
		tauHours: DefaultTauHours,
		minItems: MinItemsForScoring,
		history:  history,
		log:      logger.Get(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreCluster computes metrics for one cluster from its current item
// set. Clusters below the minimum size get all-zero metrics. Scoring has
// no side effects on the cluster itself.
func (s *Scorer) ScoreCluster(cluster *core.Cluster, items []core.RawItem, stats GlobalStats) core.ClusterMetrics {
	metrics := core.ClusterMetrics{ClusterID: cluster.ID, ItemCount: len(items)}
	if len(items) < s.minItems {
		return metrics
	}

	metrics.AvgAgeHours = s.avgAgeHours(items)
	metrics.UniqueSources = uniqueSources(items)
	metrics.UniqueDomains = uniqueDomains(cluster, items)

	metrics.ViralScore = s.viralScore(cluster, items)
	metrics.FreshnessScore = s.freshnessScore(metrics.AvgAgeHours)
	metrics.DiversityScore = s.diversityScore(cluster, items)
	metrics.VolumeScore = s.volumeScore(len(items), stats)
	metrics.QualityScore = qualityScore(items)

	metrics.CompositeScore = clamp01(
		s.weights.Viral*metrics.ViralScore +
			s.weights.Freshness*metrics.FreshnessScore +
			s.weights.Diversity*metrics.DiversityScore +
			s.weights.Volume*metrics.VolumeScore +
			s.weights.Quality*metrics.QualityScore)

	return metrics
}

// ScoreAllClusters scores every cluster against batch-level stats and
// returns the metrics sorted descending by composite score (ties broken
// by cluster id ascending). Scoring is read-only: calling it twice on
// the same input yields identical metrics. Recording counts into the
// history cache is a separate write via RecordCounts.
func (s *Scorer) ScoreAllClusters(clusters []*core.Cluster, itemsByCluster map[int64][]core.RawItem) []core.ClusterMetrics {
	if len(clusters) == 0 {
		return nil
	}

	var totalItems int
	for _, cl := range clusters {
		totalItems += len(itemsByCluster[cl.ID])
	}
	stats := GlobalStats{
		AvgClusterSize: float64(totalItems) / float64(len(clusters)),
		TotalClusters:  len(clusters),
		TotalItems:     totalItems,
	}

	scored := make([]core.ClusterMetrics, 0, len(clusters))
	for _, cl := range clusters {
		metrics := s.ScoreCluster(cl, itemsByCluster[cl.ID], stats)
		scored = append(scored, metrics)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].CompositeScore != scored[j].CompositeScore {
			return scored[i].CompositeScore > scored[j].CompositeScore
		}
		return scored[i].ClusterID < scored[j].ClusterID
	})

	s.log.Info().
		Int("clusters", len(scored)).
		Float64("top_score", scored[0].CompositeScore).
		Msg("Scored clusters")

	return scored
}

// RecordCounts writes each cluster's current item count into the
// history cache. Callers invoke it once per pass, after scoring, so the
// pass's own count never feeds back into its viral z-score.
func (s *Scorer) RecordCounts(itemsByCluster map[int64][]core.RawItem) {
	if s.history == nil {
		return
	}
	for id, items := range itemsByCluster {
		s.history.AddCount(id, len(items))
	}
}

// LightweightComposite is the simpler three-factor ranking used where
// only trend, diversity, and freshness are available.
func LightweightComposite(trend, diversity, freshness float64) float64 {
	return clamp01(0.45*trend + 0.35*diversity + 0.20*freshness)
}

// viralScore measures the spike of the cluster's current size against
// its own count history: a z-score squashed through a sigmoid. With no
// history, clusters of two or more items are presumptively trending.
func (s *Scorer) viralScore(cluster *core.Cluster, items []core.RawItem) float64 {
	var history []int
	if s.history != nil {
		history = s.history.GetHistory(cluster.ID)
	}
	count := float64(len(items))

	if len(history) == 0 {
		if count >= 2 {
			return 1.0
		}
		return 0.0
	}

	mean, std := meanStd(history)
	if std < 1e-9 {
		std = 1
	}
	return sigmoid((count - mean) / std)
}

func (s *Scorer) freshnessScore(avgAgeHours float64) float64 {
	return clamp01(math.Exp(-avgAgeHours / s.tauHours))
}

// diversityScore is one minus the Gini coefficient of the per-domain
// item counts. No domain data means no diversity signal, not perfect
// diversity.
func (s *Scorer) diversityScore(cluster *core.Cluster, items []core.RawItem) float64 {
	counts := domainCounts(cluster, items)
	if len(counts) == 0 {
		return 0.0
	}
	values := make([]float64, 0, len(counts))
	var total float64
	for _, c := range counts {
		values = append(values, float64(c))
		total += float64(c)
	}
	if total == 0 {
		return 0.0
	}
	return clamp01(1 - gini(values))
}

// volumeScore combines a logarithmic absolute-count signal with the
// cluster's size relative to the batch average, weighted 70/30.
func (s *Scorer) volumeScore(itemCount int, stats GlobalStats) float64 {
	if itemCount == 0 {
		return 0.0
	}
	base := math.Log(1+float64(itemCount)) / math.Log(100)

	relative := 1.0
	if stats.AvgClusterSize > 0 {
		relative = math.Min(2.0, float64(itemCount)/stats.AvgClusterSize)
	}
	return clamp01(0.7*base + 0.3*(relative/2.0))
}

var genericTitleWords = []string{"news", "update", "breaking", "latest"}

// qualityScore averages a per-item heuristic over title, summary,
// content, and URL characteristics.
func qualityScore(items []core.RawItem) float64 {
	if len(items) == 0 {
		return 0.0
	}

	var total float64
	for _, item := range items {
		var q float64

		title := strings.TrimSpace(item.Title)
		if n := len(title); n >= 10 && n <= 200 {
			tq := math.Min(1.0, float64(n)/100)
			lower := strings.ToLower(title)
			generic := false
			for _, w := range genericTitleWords {
				if strings.Contains(lower, w) {
					generic = true
					break
				}
			}
			if !generic {
				tq *= 1.2
			}
			q += 0.25 * math.Min(1.0, tq)
		}

		if n := len(strings.TrimSpace(item.Summary)); n >= 50 {
			q += 0.25 * math.Min(1.0, float64(n)/500)
		}

		if n := len(strings.TrimSpace(item.Content)); n >= 100 {
			q += 0.25 * math.Min(1.0, float64(n)/2000)
		}

		if item.URL != "" {
			uq := 1.0
			lower := strings.ToLower(item.URL)
			for _, pattern := range []string{"redirect", "track", "utm_", "fb_", "gclid"} {
				if strings.Contains(lower, pattern) {
					uq *= 0.8
				}
			}
			q += 0.25 * uq
		}

		total += math.Min(1.0, q)
	}
	return total / float64(len(items))
}

// avgAgeHours averages over the items that carry a timestamp; items
// with neither published nor fetched time contribute nothing to either
// side of the average.
func (s *Scorer) avgAgeHours(items []core.RawItem) float64 {
	now := s.now().UTC()
	var total float64
	var counted int
	for _, item := range items {
		ts := item.PublishedAt
		if ts.IsZero() {
			ts = item.FetchedAt
		}
		if ts.IsZero() {
			continue
		}
		age := now.Sub(ts).Hours()
		if age < 0 {
			age = 0
		}
		total += age
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

func domainCounts(cluster *core.Cluster, items []core.RawItem) map[string]int {
	if len(cluster.Domains) > 0 {
		return cluster.Domains
	}
	counts := make(map[string]int)
	for _, item := range items {
		if item.Domain != "" {
			counts[item.Domain]++
		}
	}
	return counts
}

func uniqueSources(items []core.RawItem) int {
	seen := make(map[string]bool)
	for _, item := range items {
		if item.SourceURL != "" {
			seen[item.SourceURL] = true
		}
	}
	return len(seen)
}

func uniqueDomains(cluster *core.Cluster, items []core.RawItem) int {
	return len(domainCounts(cluster, items))
}

// gini computes the Gini coefficient of a value distribution. Empty or
// all-zero input yields 0.
func gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0.0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0.0
	}
	return (2*weighted)/(float64(n)*sum) - float64(n+1)/float64(n)
}

func meanStd(values []int) (float64, float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		d := float64(v) - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / n)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
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
