package selection

import (
	"testing"

	"trender/internal/core"
)

func metrics(id int64, composite float64) core.ClusterMetrics {
	return core.ClusterMetrics{ClusterID: id, CompositeScore: composite, ItemCount: 5}
}

func enabledTopic(key string, priority float64, maxPosts int) core.TopicConfig {
	return core.TopicConfig{
		Name:           key,
		TopicKey:       key,
		Enabled:        true,
		Priority:       priority,
		MaxPostsPerRun: maxPosts,
	}
}

func TestSelectFinalPicksGlobalQuota(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{
		metrics(1, 0.5),
		metrics(2, 0.9),
		metrics(3, 0.7),
		metrics(4, 0.3),
	}

	sel := s.SelectFinalPicks(scored, GlobalConfig{KGlobal: 2, MaxPostsPerRun: 100}, nil, nil, nil)

	if len(sel.GlobalPicks) != 2 {
		t.Fatalf("expected 2 global picks, got %d", len(sel.GlobalPicks))
	}
	if sel.GlobalPicks[0].ClusterID != 2 || sel.GlobalPicks[1].ClusterID != 3 {
		t.Errorf("picks out of order: %+v", sel.GlobalPicks)
	}
	if sel.GlobalPicks[0].Rank != 1 || sel.GlobalPicks[1].Rank != 2 {
		t.Errorf("ranks not 1-based sequential: %+v", sel.GlobalPicks)
	}
	if sel.GlobalPicks[0].AdjustedScore != sel.GlobalPicks[0].ScoreTotal {
		t.Error("global adjusted score should equal score total")
	}
}

func TestSelectFinalPicksGlobalCapByMaxPosts(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{metrics(1, 0.9), metrics(2, 0.8), metrics(3, 0.7)}
	sel := s.SelectFinalPicks(scored, GlobalConfig{KGlobal: 10, MaxPostsPerRun: 1}, nil, nil, nil)

	if len(sel.GlobalPicks) != 1 {
		t.Errorf("max_posts_per_run should cap picks, got %d", len(sel.GlobalPicks))
	}
}

func TestSelectFinalPicksGlobalTieBrokenByClusterID(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{metrics(7, 0.8), metrics(3, 0.8)}
	sel := s.SelectFinalPicks(scored, GlobalConfig{KGlobal: 2}, nil, nil, nil)

	if sel.GlobalPicks[0].ClusterID != 3 {
		t.Errorf("tie should go to the lower cluster id, got %d first", sel.GlobalPicks[0].ClusterID)
	}
}

func TestSelectFinalPicksTopicQuotasAndPriority(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{
		metrics(1, 0.9),
		metrics(2, 0.6),
		metrics(3, 0.8),
		metrics(4, 0.7),
	}
	topics := []core.TopicConfig{
		enabledTopic("taiwan", 2.0, 1),
		enabledTopic("ai", 1.0, 2),
	}
	mapping := map[int64]string{1: "taiwan", 2: "taiwan", 3: "ai", 4: "ai"}

	sel := s.SelectFinalPicks(scored, GlobalConfig{}, topics, mapping, nil)

	if len(sel.GlobalPicks) != 0 {
		t.Errorf("no global quota requested, got %d global picks", len(sel.GlobalPicks))
	}
	if len(sel.TopicPicks) != 3 {
		t.Fatalf("expected 1 taiwan + 2 ai picks, got %d", len(sel.TopicPicks))
	}

	first := sel.TopicPicks[0]
	if first.TopicKey != "taiwan" || first.ClusterID != 1 {
		t.Errorf("taiwan's best cluster should be first, got %+v", first)
	}
	if first.AdjustedScore != 1.8 {
		t.Errorf("adjusted score = %f, want priority 2.0 x composite 0.9 = 1.8", first.AdjustedScore)
	}
	if first.ScoreTotal != 0.9 {
		t.Errorf("score total should stay the raw composite, got %f", first.ScoreTotal)
	}

	// Per-topic ranks restart at 1.
	for _, p := range sel.TopicPicks {
		if p.TopicKey == "ai" && p.ClusterID == 3 && p.Rank != 1 {
			t.Errorf("ai's best pick rank = %d, want 1", p.Rank)
		}
	}
}

func TestSelectFinalPicksDisabledTopicExcluded(t *testing.T) {
	s := NewSelector()

	topic := enabledTopic("taiwan", 1.0, 5)
	topic.Enabled = false

	sel := s.SelectFinalPicks(
		[]core.ClusterMetrics{metrics(1, 0.9)},
		GlobalConfig{},
		[]core.TopicConfig{topic},
		map[int64]string{1: "taiwan"},
		nil,
	)

	if len(sel.TopicPicks) != 0 {
		t.Errorf("disabled topic should yield no picks, got %d", len(sel.TopicPicks))
	}
}

func TestSelectFinalPicksMissingPriorityDefaultsToOne(t *testing.T) {
	s := NewSelector()

	topic := enabledTopic("taiwan", 0, 5)
	sel := s.SelectFinalPicks(
		[]core.ClusterMetrics{metrics(1, 0.8)},
		GlobalConfig{},
		[]core.TopicConfig{topic},
		map[int64]string{1: "taiwan"},
		nil,
	)

	if len(sel.TopicPicks) != 1 {
		t.Fatalf("expected 1 pick, got %d", len(sel.TopicPicks))
	}
	if got := sel.TopicPicks[0].AdjustedScore; got != 0.8 {
		t.Errorf("adjusted score with default priority = %f, want 0.8", got)
	}
	if got := sel.TopicPicks[0].TopicPriority; got != 1.0 {
		t.Errorf("topic priority = %f, want default 1.0", got)
	}
}

func TestSelectFinalPicksDuplicateTopicBeatsGlobal(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{metrics(1, 0.9), metrics(2, 0.5)}
	topics := []core.TopicConfig{enabledTopic("taiwan", 1.0, 5)}
	mapping := map[int64]string{1: "taiwan"}
	// Cluster 1 appears as both the top global pick and a topic pick.
	centroids := map[int64][]float64{
		1: {1, 0, 0},
		2: {0, 1, 0},
	}

	sel := s.SelectFinalPicks(scored, GlobalConfig{KGlobal: 2}, topics, mapping, centroids)

	for _, p := range sel.GlobalPicks {
		if p.ClusterID == 1 {
			t.Error("global copy of duplicated cluster should be discarded")
		}
	}
	if len(sel.TopicPicks) != 1 || sel.TopicPicks[0].ClusterID != 1 {
		t.Errorf("topic pick should survive, got %+v", sel.TopicPicks)
	}

	// The surviving global pick is renumbered from rank 1.
	if len(sel.GlobalPicks) != 1 || sel.GlobalPicks[0].Rank != 1 {
		t.Errorf("global ranks should be renumbered after removal, got %+v", sel.GlobalPicks)
	}
}

func TestSelectFinalPicksDuplicateHigherPriorityTopicWins(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{metrics(1, 0.9), metrics(2, 0.8)}
	topics := []core.TopicConfig{
		enabledTopic("low", 1.0, 5),
		enabledTopic("high", 3.0, 5),
	}
	mapping := map[int64]string{1: "low", 2: "high"}
	// Near-identical centroids make the two picks duplicates.
	centroids := map[int64][]float64{
		1: {1, 0},
		2: {1, 0},
	}

	sel := s.SelectFinalPicks(scored, GlobalConfig{}, topics, mapping, centroids)

	if len(sel.TopicPicks) != 1 {
		t.Fatalf("expected a single surviving pick, got %d", len(sel.TopicPicks))
	}
	if sel.TopicPicks[0].TopicKey != "high" {
		t.Errorf("higher-priority topic should win, got %q", sel.TopicPicks[0].TopicKey)
	}
}

func TestSelectFinalPicksDuplicateRemovalSkippedWithoutCentroids(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{metrics(1, 0.9)}
	topics := []core.TopicConfig{enabledTopic("taiwan", 1.0, 5)}
	mapping := map[int64]string{1: "taiwan"}

	sel := s.SelectFinalPicks(scored, GlobalConfig{KGlobal: 1}, topics, mapping, nil)

	// Same cluster survives in both scopes when no centroids are supplied.
	if len(sel.GlobalPicks) != 1 || len(sel.TopicPicks) != 1 {
		t.Errorf("expected both copies without dedup, got %d global / %d topic",
			len(sel.GlobalPicks), len(sel.TopicPicks))
	}
}

func TestSelectFinalPicksMutuallySimilarGroupKeepsOne(t *testing.T) {
	s := NewSelector()

	scored := []core.ClusterMetrics{metrics(1, 0.9), metrics(2, 0.8), metrics(3, 0.7)}
	centroids := map[int64][]float64{
		1: {1, 0},
		2: {1, 0},
		3: {1, 0},
	}

	sel := s.SelectFinalPicks(scored, GlobalConfig{KGlobal: 3}, nil, nil, centroids)

	if len(sel.GlobalPicks) != 1 {
		t.Fatalf("mutually similar picks should collapse to one, got %d", len(sel.GlobalPicks))
	}
	if sel.GlobalPicks[0].ClusterID != 1 {
		t.Errorf("highest-scored duplicate should survive, got %d", sel.GlobalPicks[0].ClusterID)
	}
}

func TestSelectFinalPicksEmptyInput(t *testing.T) {
	s := NewSelector()

	sel := s.SelectFinalPicks(nil, GlobalConfig{KGlobal: 10}, nil, nil, nil)
	if sel.TotalPicks() != 0 {
		t.Errorf("empty input should yield empty selection, got %d picks", sel.TotalPicks())
	}
}
