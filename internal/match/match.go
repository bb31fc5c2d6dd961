// Package match scopes raw items to a topic. It applies the topic's domain
// and language restrictions as hard filters, scores each surviving item
// against the topic's compiled queries across weighted text fields, and
// returns the best matches sorted by score.
package match

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"trender/internal/core"
	"trender/internal/logger"
	"trender/internal/query"
)

// Field weights for query evaluation. Title hits count double, body text
// half. Fields are truncated before matching to bound cost on oversized
// scraped content.
const (
	titleWeight   = 2.0
	summaryWeight = 1.0
	contentWeight = 0.5

	maxFieldLen = 2000
)

// ScoredItem pairs an item with its topic match score.
type ScoredItem struct {
	Item  core.RawItem
	Score float64
}

// Matcher filters and scores items for topics. Compiled queries are cached
// per topic key, so repeated runs of the same topic skip recompilation.
// Safe for concurrent use.
type Matcher struct {
	mu    sync.Mutex
	cache map[string][]query.Matcher
	log   zerolog.Logger
}

// NewMatcher creates a topic matcher with an empty compilation cache.
func NewMatcher() *Matcher {
	return &Matcher{
		cache: make(map[string][]query.Matcher),
		log:   logger.Get(),
	}
}

// FilterItemsByTopic returns the items relevant to the topic, sorted
// descending by match score and capped at the topic's per-run limit.
// Domain and language restrictions exclude items regardless of score.
func (m *Matcher) FilterItemsByTopic(items []core.RawItem, topic core.TopicConfig) []ScoredItem {
	matchers := m.compiledQueries(topic)

	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		if !domainAllowed(item, topic.AllowDomains) {
			continue
		}
		if !languageAllowed(item, topic.Lang) {
			continue
		}
		score := m.matchScore(item, topic, matchers)
		if score < topic.MinScore {
			continue
		}
		scored = append(scored, ScoredItem{Item: item, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topic.MaxPostsPerRun > 0 && len(scored) > topic.MaxPostsPerRun {
		scored = scored[:topic.MaxPostsPerRun]
	}

	m.log.Debug().
		Str("topic", topic.TopicKey).
		Int("candidates", len(items)).
		Int("matched", len(scored)).
		Msg("Filtered items for topic")

	return scored
}

// MatchScore computes a single item's match score against the topic.
func (m *Matcher) MatchScore(item core.RawItem, topic core.TopicConfig) float64 {
	return m.matchScore(item, topic, m.compiledQueries(topic))
}

// matchScore evaluates each query against the item's weighted fields. A
// query's contribution is the weight share of the fields it matches, the
// per-query contributions are averaged, and the result is boosted and
// clamped to [0,1]. No queries or no text yields 0.
func (m *Matcher) matchScore(item core.RawItem, topic core.TopicConfig, matchers []query.Matcher) float64 {
	if len(matchers) == 0 {
		return 0
	}

	fields := []struct {
		text   string
		weight float64
	}{
		{truncate(item.Title), titleWeight},
		{truncate(item.Summary), summaryWeight},
		{truncate(item.Content), contentWeight},
	}

	hasText := false
	for _, f := range fields {
		if f.text != "" {
			hasText = true
			break
		}
	}
	if !hasText {
		return 0
	}

	// Normalized against the full field weight, so a query matching only
	// the body scores well below one matching the title.
	const fullWeight = titleWeight + summaryWeight + contentWeight
	var total float64
	for _, matcher := range matchers {
		var matched float64
		for _, f := range fields {
			if f.text != "" && matcher(f.text) {
				matched += f.weight
			}
		}
		total += matched / fullWeight
	}

	score := total / float64(len(matchers))
	boost := topic.BoostFactor
	if boost <= 0 {
		boost = 1.0
	}
	score *= boost
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (m *Matcher) compiledQueries(topic core.TopicConfig) []query.Matcher {
	key := topic.TopicKey
	if key == "" {
		key = topic.Name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if matchers, ok := m.cache[key]; ok {
		return matchers
	}

	matchers := make([]query.Matcher, 0, len(topic.Queries))
	for _, q := range topic.Queries {
		matchers = append(matchers, query.Compile(q))
	}
	m.cache[key] = matchers
	return matchers
}

// domainAllowed checks the allow list against the item's domain, falling
// back to the URL host when the domain field is unset. Items with neither
// pass through, matching the permissive treatment of feed entries that
// arrive without source metadata.
func domainAllowed(item core.RawItem, allowDomains []string) bool {
	if len(allowDomains) == 0 {
		return true
	}

	domain := strings.ToLower(item.Domain)
	if domain == "" && item.URL != "" {
		if u, err := url.Parse(item.URL); err == nil {
			domain = strings.ToLower(u.Hostname())
		}
	}
	if domain == "" {
		return true
	}

	for _, allowed := range allowDomains {
		if strings.Contains(domain, strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}

func languageAllowed(item core.RawItem, lang string) bool {
	if lang == "" {
		return true
	}
	return strings.EqualFold(item.Language, lang)
}

func truncate(s string) string {
	if len(s) > maxFieldLen {
		return s[:maxFieldLen]
	}
	return s
}
