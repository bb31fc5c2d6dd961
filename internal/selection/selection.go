// Package selection turns scored clusters into the final pick lists. It
// applies the global quota, per-topic quotas weighted by topic priority,
// and centroid-based duplicate resolution across both scopes.
package selection

import (
	"sort"

	"github.com/rs/zerolog"

	"trender/internal/core"
	"trender/internal/embed"
	"trender/internal/logger"
)

const (
	// DefaultDuplicateThreshold is the centroid cosine similarity at which
	// two picks are considered the same story.
	DefaultDuplicateThreshold = 0.9

	// defaultTopicMaxPosts caps a topic's picks when its config carries no
	// limit.
	defaultTopicMaxPosts = 5
)

// GlobalConfig carries the global selection limits.
type GlobalConfig struct {
	KGlobal        int
	MaxPostsPerRun int
}

// Selector builds the final Selection from scored clusters.
type Selector struct {
	duplicateThreshold float64
	log                zerolog.Logger
}

// Option customizes a Selector.
type Option func(*Selector)

// WithDuplicateThreshold overrides the centroid similarity at which picks
// are deduplicated. Values outside (0, 1] are ignored.
func WithDuplicateThreshold(threshold float64) Option {
	return func(s *Selector) {
		if threshold > 0 && threshold <= 1 {
			s.duplicateThreshold = threshold
		}
	}
}

// NewSelector creates a Selector with the default duplicate threshold.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{
		duplicateThreshold: DefaultDuplicateThreshold,
		log:                logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectFinalPicks runs global selection, topic selection, and duplicate
// resolution, in that order. Ranks are renumbered 1..k within each scope
// after duplicates are removed. Empty input yields an empty Selection.
func (s *Selector) SelectFinalPicks(
	scored []core.ClusterMetrics,
	cfg GlobalConfig,
	topics []core.TopicConfig,
	clusterTopics map[int64]string,
	centroids map[int64][]float64,
) core.Selection {
	globalPicks := s.selectGlobalPicks(scored, cfg)
	topicPicks := s.selectTopicPicks(scored, topics, clusterTopics)

	globalPicks, topicPicks = s.removeDuplicates(globalPicks, topicPicks, centroids)

	renumberGlobal(globalPicks)
	renumberPerTopic(topicPicks)

	selection := core.Selection{GlobalPicks: globalPicks, TopicPicks: topicPicks}
	s.log.Info().
		Int("global_picks", len(globalPicks)).
		Int("topic_picks", len(topicPicks)).
		Int("topics", selection.TopicsRepresented()).
		Msg("Final selection completed")
	return selection
}

// selectGlobalPicks takes the top min(k_global, max_posts_per_run)
// clusters by composite score, ties broken by cluster id ascending.
func (s *Selector) selectGlobalPicks(scored []core.ClusterMetrics, cfg GlobalConfig) []core.SelectedPick {
	if len(scored) == 0 || cfg.KGlobal <= 0 {
		return nil
	}

	limit := cfg.KGlobal
	if cfg.MaxPostsPerRun > 0 && cfg.MaxPostsPerRun < limit {
		limit = cfg.MaxPostsPerRun
	}

	ranked := make([]core.ClusterMetrics, len(scored))
	copy(ranked, scored)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CompositeScore != ranked[j].CompositeScore {
			return ranked[i].CompositeScore > ranked[j].CompositeScore
		}
		return ranked[i].ClusterID < ranked[j].ClusterID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	picks := make([]core.SelectedPick, 0, len(ranked))
	for i, m := range ranked {
		picks = append(picks, core.SelectedPick{
			ClusterID:     m.ClusterID,
			ScoreTotal:    m.CompositeScore,
			AdjustedScore: m.CompositeScore,
			SelectionType: core.SelectionGlobal,
			Rank:          i + 1,
		})
	}
	return picks
}

// selectTopicPicks groups clusters by mapped topic and takes each enabled
// topic's top clusters by priority-adjusted score. Topics are processed
// in config order so output is deterministic.
func (s *Selector) selectTopicPicks(
	scored []core.ClusterMetrics,
	topics []core.TopicConfig,
	clusterTopics map[int64]string,
) []core.SelectedPick {
	if len(scored) == 0 || len(topics) == 0 || len(clusterTopics) == 0 {
		return nil
	}

	byTopic := make(map[string][]core.ClusterMetrics)
	for _, m := range scored {
		if key, ok := clusterTopics[m.ClusterID]; ok {
			byTopic[key] = append(byTopic[key], m)
		}
	}

	var picks []core.SelectedPick
	for _, topic := range topics {
		if !topic.Enabled {
			continue
		}
		candidates := byTopic[topic.TopicKey]
		if len(candidates) == 0 {
			continue
		}

		priority := topic.Priority
		if priority <= 0 {
			priority = 1.0
		}
		maxPosts := topic.MaxPostsPerRun
		if maxPosts <= 0 {
			maxPosts = defaultTopicMaxPosts
		}

		sort.Slice(candidates, func(i, j int) bool {
			ai := priority * candidates[i].CompositeScore
			aj := priority * candidates[j].CompositeScore
			if ai != aj {
				return ai > aj
			}
			return candidates[i].ClusterID < candidates[j].ClusterID
		})
		if len(candidates) > maxPosts {
			candidates = candidates[:maxPosts]
		}

		for i, m := range candidates {
			picks = append(picks, core.SelectedPick{
				ClusterID:     m.ClusterID,
				ScoreTotal:    m.CompositeScore,
				AdjustedScore: priority * m.CompositeScore,
				SelectionType: core.SelectionTopic,
				TopicKey:      topic.TopicKey,
				TopicPriority: priority,
				Rank:          i + 1,
			})
		}
	}
	return picks
}

// removeDuplicates resolves picks whose cluster centroids are near
// duplicates. Topic picks beat global picks; between topic picks higher
// priority wins, ties by adjusted score; between global picks higher
// score wins. Without centroids the step is a logged no-op.
func (s *Selector) removeDuplicates(
	globalPicks, topicPicks []core.SelectedPick,
	centroids map[int64][]float64,
) ([]core.SelectedPick, []core.SelectedPick) {
	if len(centroids) == 0 {
		s.log.Warn().Msg("No cluster centroids provided, skipping duplicate removal")
		return globalPicks, topicPicks
	}

	all := make([]core.SelectedPick, 0, len(globalPicks)+len(topicPicks))
	all = append(all, globalPicks...)
	all = append(all, topicPicks...)

	discarded := make(map[int]bool)
	for i := 0; i < len(all); i++ {
		if discarded[i] {
			continue
		}
		for j := i + 1; j < len(all); j++ {
			if discarded[j] {
				continue
			}
			ci, okI := centroids[all[i].ClusterID]
			cj, okJ := centroids[all[j].ClusterID]
			if !okI || !okJ {
				continue
			}
			var similarity float64
			if all[i].ClusterID == all[j].ClusterID {
				similarity = 1.0
			} else {
				similarity = embed.Cosine(ci, cj)
			}
			if similarity < s.duplicateThreshold {
				continue
			}
			if keepFirst(all[i], all[j]) {
				discarded[j] = true
			} else {
				discarded[i] = true
			}
		}
	}

	var outGlobal, outTopic []core.SelectedPick
	for i, pick := range all {
		if discarded[i] {
			continue
		}
		if pick.SelectionType == core.SelectionGlobal {
			outGlobal = append(outGlobal, pick)
		} else {
			outTopic = append(outTopic, pick)
		}
	}

	if removed := len(discarded); removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Removed duplicate picks by centroid similarity")
	}
	return outGlobal, outTopic
}

// keepFirst decides which of two duplicate picks survives.
func keepFirst(a, b core.SelectedPick) bool {
	aTopic := a.SelectionType == core.SelectionTopic
	bTopic := b.SelectionType == core.SelectionTopic

	switch {
	case aTopic && bTopic:
		pa, pb := priorityOf(a), priorityOf(b)
		if pa != pb {
			return pa > pb
		}
		return a.AdjustedScore > b.AdjustedScore
	case aTopic:
		return true
	case bTopic:
		return false
	default:
		return a.AdjustedScore > b.AdjustedScore
	}
}

func priorityOf(p core.SelectedPick) float64 {
	if p.TopicPriority <= 0 {
		return 1.0
	}
	return p.TopicPriority
}

func renumberGlobal(picks []core.SelectedPick) {
	for i := range picks {
		picks[i].Rank = i + 1
	}
}

func renumberPerTopic(picks []core.SelectedPick) {
	next := make(map[string]int)
	for i := range picks {
		next[picks[i].TopicKey]++
		picks[i].Rank = next[picks[i].TopicKey]
	}
}
