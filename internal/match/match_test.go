package match

import (
	"testing"

	"trender/internal/core"
)

func taiwanTopic() core.TopicConfig {
	return core.TopicConfig{
		Name:           "Taiwan Security",
		TopicKey:       "taiwan_seguridad",
		Queries:        []string{`"Taiwan" OR "Taipei"`},
		MaxPostsPerRun: 10,
		BoostFactor:    1.0,
		MinScore:       0.1,
	}
}

func TestFilterItemsByTopicScoresAndSorts(t *testing.T) {
	m := NewMatcher()

	items := []core.RawItem{
		{ID: "weak", Content: "A long report mentioning Taiwan only in the body text"},
		{ID: "strong", Title: "Taiwan announces drills", Summary: "Taipei responds"},
		{ID: "none", Title: "Crypto market volatility"},
	}

	scored := m.FilterItemsByTopic(items, taiwanTopic())

	if len(scored) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(scored))
	}
	if scored[0].Item.ID != "strong" {
		t.Errorf("highest-scored item = %q, want strong", scored[0].Item.ID)
	}
	if scored[0].Score <= scored[1].Score {
		t.Errorf("scores not descending: %f then %f", scored[0].Score, scored[1].Score)
	}
	for _, s := range scored {
		if s.Score < 0 || s.Score > 1 {
			t.Errorf("score %f outside [0,1]", s.Score)
		}
	}
}

func TestFilterItemsByTopicTitleOutweighsContent(t *testing.T) {
	m := NewMatcher()

	titleHit := core.RawItem{ID: "t", Title: "Taiwan drills", Summary: "unrelated", Content: "unrelated"}
	contentHit := core.RawItem{ID: "c", Title: "unrelated", Summary: "unrelated", Content: "Taiwan drills"}

	topic := taiwanTopic()
	titleScore := m.MatchScore(titleHit, topic)
	contentScore := m.MatchScore(contentHit, topic)

	if titleScore <= contentScore {
		t.Errorf("title match %f should outweigh content match %f", titleScore, contentScore)
	}
}

func TestFilterItemsByTopicDomainFilter(t *testing.T) {
	m := NewMatcher()

	topic := taiwanTopic()
	topic.AllowDomains = []string{"reuters.com"}

	items := []core.RawItem{
		{ID: "allowed", Title: "Taiwan announces drills", Domain: "reuters.com"},
		{ID: "blocked", Title: "Taiwan announces drills", Domain: "example.org"},
		{ID: "fromurl", Title: "Taipei tensions rise", URL: "https://www.reuters.com/world/a"},
		{ID: "nodomain", Title: "Taiwan policy debated"},
	}

	scored := m.FilterItemsByTopic(items, topic)

	got := make(map[string]bool)
	for _, s := range scored {
		got[s.Item.ID] = true
	}
	if got["blocked"] {
		t.Error("domain filter should exclude items from other domains")
	}
	if !got["allowed"] || !got["fromurl"] {
		t.Errorf("expected allowed and fromurl to pass, got %v", got)
	}
	if !got["nodomain"] {
		t.Error("items without any domain information should pass through")
	}
}

func TestFilterItemsByTopicLanguageFilter(t *testing.T) {
	m := NewMatcher()

	topic := taiwanTopic()
	topic.Lang = "en"

	items := []core.RawItem{
		{ID: "en", Title: "Taiwan announces drills", Language: "EN"},
		{ID: "es", Title: "Taiwan anuncia ejercicios", Language: "es"},
		{ID: "unset", Title: "Taiwan policy debated"},
	}

	scored := m.FilterItemsByTopic(items, topic)

	if len(scored) != 1 || scored[0].Item.ID != "en" {
		t.Errorf("language filter should keep only the en item, got %v", scored)
	}
}

func TestFilterItemsByTopicMinScoreFloor(t *testing.T) {
	m := NewMatcher()

	topic := taiwanTopic()
	topic.MinScore = 0.9

	// Content-only match scores well below 0.9.
	items := []core.RawItem{
		{ID: "weak", Title: "unrelated", Summary: "unrelated", Content: "Taiwan mentioned once"},
	}

	if scored := m.FilterItemsByTopic(items, topic); len(scored) != 0 {
		t.Errorf("expected min_score to exclude weak match, got %v", scored)
	}
}

func TestFilterItemsByTopicRespectsMaxPostsPerRun(t *testing.T) {
	m := NewMatcher()

	topic := taiwanTopic()
	topic.MaxPostsPerRun = 2

	items := []core.RawItem{
		{ID: "a", Title: "Taiwan drills"},
		{ID: "b", Title: "Taipei tensions"},
		{ID: "c", Title: "Taiwan policy"},
	}

	if scored := m.FilterItemsByTopic(items, topic); len(scored) != 2 {
		t.Errorf("expected cap at 2 items, got %d", len(scored))
	}
}

func TestMatchScoreBoostClamped(t *testing.T) {
	m := NewMatcher()

	topic := taiwanTopic()
	topic.BoostFactor = 10.0

	item := core.RawItem{Title: "Taiwan drills", Summary: "Taipei responds", Content: "Taiwan again"}
	if score := m.MatchScore(item, topic); score != 1.0 {
		t.Errorf("boosted score should clamp to 1.0, got %f", score)
	}
}

func TestMatchScoreEdgeCases(t *testing.T) {
	m := NewMatcher()

	noQueries := core.TopicConfig{Name: "empty", TopicKey: "empty"}
	if score := m.MatchScore(core.RawItem{Title: "anything"}, noQueries); score != 0 {
		t.Errorf("topic without queries should score 0, got %f", score)
	}

	if score := m.MatchScore(core.RawItem{}, taiwanTopic()); score != 0 {
		t.Errorf("item without text should score 0, got %f", score)
	}
}

func TestCompiledQueriesAreCachedPerTopic(t *testing.T) {
	m := NewMatcher()
	topic := taiwanTopic()

	first := m.compiledQueries(topic)
	second := m.compiledQueries(topic)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 compiled query, got %d and %d", len(first), len(second))
	}
	if len(m.cache) != 1 {
		t.Errorf("cache should hold one topic entry, got %d", len(m.cache))
	}
}
