package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trender/internal/cluster"
	"trender/internal/core"
	"trender/internal/embed"
	"trender/internal/match"
	"trender/internal/score"
	"trender/internal/selection"
	"trender/internal/store"
)

type fakeItemSource struct {
	items []core.RawItem
	err   error
}

func (f *fakeItemSource) GetRecentRawItems(int) ([]core.RawItem, error) {
	return f.items, f.err
}

type fakeSink struct {
	mu       sync.Mutex
	upserts  int
	attaches int
	scoreUps int
	open     []*core.Cluster
	members  map[int64][]core.RawItem
}

func (f *fakeSink) UpsertCluster(*core.Cluster) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return nil
}

func (f *fakeSink) AttachItemToCluster(core.ClusterItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attaches++
	return nil
}

func (f *fakeSink) UpdateClusterScores([]core.ClusterMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scoreUps++
	return nil
}

func (f *fakeSink) LoadOpenClusters(string) ([]*core.Cluster, error) {
	return f.open, nil
}

func (f *fakeSink) GetItemsForCluster(clusterID int64) ([]core.RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[clusterID], nil
}

// recentItem leaves the summary empty so item similarity is driven by
// the title tokens alone, keeping clustering deterministic.
func recentItem(id, title, domain string) core.RawItem {
	return core.RawItem{
		ID:          id,
		Title:       title,
		URL:         "https://" + domain + "/" + id,
		Domain:      domain,
		SourceURL:   "https://" + domain + "/feed",
		PublishedAt: time.Now().UTC().Add(-time.Hour),
		FetchedAt:   time.Now().UTC(),
	}
}

// trendingItems form two clusters of three items each: identical token
// sets within a group, disjoint vocabulary across groups.
func trendingItems() []core.RawItem {
	return []core.RawItem{
		recentItem("t1", "taiwan military drills announced", "reuters.com"),
		recentItem("t2", "announced taiwan drills military", "bbc.com"),
		recentItem("t3", "military taiwan announced drills", "apnews.com"),
		recentItem("q1", "quantum chip breakthrough unveiled", "wired.com"),
		recentItem("q2", "unveiled quantum breakthrough chip", "verge.net"),
		recentItem("q3", "breakthrough chip quantum unveiled", "arstechnica.com"),
	}
}

func newTestOrchestrator(t *testing.T, src ItemSource, loadTopics TopicsLoader, opts ...Option) *Orchestrator {
	t.Helper()
	clusterer, err := cluster.New(embed.NewHashingEmbedder(), 0.78)
	if err != nil {
		t.Fatal(err)
	}
	if loadTopics == nil {
		loadTopics = func() ([]core.TopicConfig, error) { return nil, nil }
	}
	return NewOrchestrator(
		src,
		loadTopics,
		match.NewMatcher(),
		clusterer,
		score.NewScorer(score.NewMemoryHistoryCache()),
		selection.NewSelector(),
		opts...,
	)
}

func TestRunTrendingEndToEnd(t *testing.T) {
	src := &fakeItemSource{items: trendingItems()}
	sink := &fakeSink{}
	o := newTestOrchestrator(t, src, nil, WithSink(sink))

	sel, err := o.RunTrending(context.Background(), 24, 5)
	if err != nil {
		t.Fatal(err)
	}

	if len(sel.GlobalPicks) != 2 {
		t.Fatalf("expected 2 global picks (one per cluster), got %d", len(sel.GlobalPicks))
	}
	if sel.GlobalPicks[0].Rank != 1 || sel.GlobalPicks[1].Rank != 2 {
		t.Errorf("ranks not sequential: %+v", sel.GlobalPicks)
	}
	if sel.GlobalPicks[0].ScoreTotal < sel.GlobalPicks[1].ScoreTotal {
		t.Error("picks not ordered by score")
	}
	if len(sel.TopicPicks) != 0 {
		t.Errorf("trending run should produce no topic picks, got %d", len(sel.TopicPicks))
	}

	if sink.upserts != 2 {
		t.Errorf("expected 2 cluster upserts, got %d", sink.upserts)
	}
	if sink.attaches != 6 {
		t.Errorf("expected 6 item attachments, got %d", sink.attaches)
	}
	if sink.scoreUps != 1 {
		t.Errorf("expected 1 score batch write, got %d", sink.scoreUps)
	}

	stats := o.LastStats()
	if stats.ItemsLoaded != 6 || stats.ClustersScored != 2 || stats.PicksSelected != 2 {
		t.Errorf("unexpected run stats: %+v", stats)
	}
	if stats.WindowHours != 24 || stats.CompletedAt.Before(stats.StartedAt) {
		t.Errorf("stats timing not recorded: %+v", stats)
	}
}

// TestRunTrendingIncrementalPasses runs the pipeline twice against a
// real store with overlapping windows. The second pass sees the first
// pass's three items again plus one new one: the grown cluster must be
// scored on all four members, and the re-seen items must not inflate
// its tallies.
func TestRunTrendingIncrementalPasses(t *testing.T) {
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	firstPass := []core.RawItem{
		recentItem("t1", "taiwan military drills announced", "reuters.com"),
		recentItem("t2", "announced taiwan drills military", "bbc.com"),
		recentItem("t3", "military taiwan announced drills", "apnews.com"),
	}
	if err := st.SaveRawItems(firstPass); err != nil {
		t.Fatal(err)
	}

	src := &fakeItemSource{items: firstPass}
	o := newTestOrchestrator(t, src, nil, WithSink(st))

	first, err := o.RunTrending(context.Background(), 24, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.GlobalPicks) != 1 {
		t.Fatalf("first pass: expected 1 pick, got %d", len(first.GlobalPicks))
	}
	if first.GlobalPicks[0].ScoreTotal <= 0 {
		t.Fatalf("first pass pick has zero score: %+v", first.GlobalPicks[0])
	}

	newItem := recentItem("t4", "drills announced taiwan military", "dw.com")
	if err := st.SaveRawItems([]core.RawItem{newItem}); err != nil {
		t.Fatal(err)
	}
	src.items = append(firstPass, newItem)

	second, err := o.RunTrending(context.Background(), 24, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.GlobalPicks) != 1 {
		t.Fatalf("second pass: expected 1 pick, got %d", len(second.GlobalPicks))
	}
	pick := second.GlobalPicks[0]
	if pick.ScoreTotal <= 0 {
		t.Errorf("grown cluster scored zero; full membership must feed the scorer: %+v", pick)
	}

	open, err := st.LoadOpenClusters("")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("expected the cluster to persist across passes, got %d clusters", len(open))
	}
	if open[0].ItemsCount != 4 {
		t.Errorf("items_count = %d, want 4; re-seen items must not be re-attached", open[0].ItemsCount)
	}
	members, err := st.GetItemsForCluster(open[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 4 {
		t.Errorf("cluster has %d membership rows, want 4", len(members))
	}
}

func TestRunTrendingItemLoadFailure(t *testing.T) {
	src := &fakeItemSource{err: errors.New("db down")}
	o := newTestOrchestrator(t, src, nil)

	sel, err := o.RunTrending(context.Background(), 24, 5)
	if err == nil {
		t.Error("expected error when item loading fails")
	}
	if sel.TotalPicks() != 0 {
		t.Errorf("failed run should return empty selection, got %d picks", sel.TotalPicks())
	}
}

func TestRunTrendingNoItems(t *testing.T) {
	o := newTestOrchestrator(t, &fakeItemSource{}, nil)

	sel, err := o.RunTrending(context.Background(), 24, 5)
	if err != nil {
		t.Fatal(err)
	}
	if sel.TotalPicks() != 0 {
		t.Errorf("empty window should yield empty selection, got %d picks", sel.TotalPicks())
	}
}

func TestRunTrendingCancelledContext(t *testing.T) {
	o := newTestOrchestrator(t, &fakeItemSource{items: trendingItems()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := o.RunTrending(ctx, 24, 5); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestRunTopicsProducesEntryPerTopic(t *testing.T) {
	topics := []core.TopicConfig{
		{
			Name: "Taiwan", TopicKey: "taiwan", Queries: []string{"taiwan"},
			Enabled: true, CadenceMinutes: 60, MaxPostsPerRun: 5,
			MinScore: 0.1, BoostFactor: 1.0, Priority: 2.0,
		},
		{
			Name: "Crypto", TopicKey: "crypto", Queries: []string{"crypto"},
			Enabled: true, CadenceMinutes: 60, MaxPostsPerRun: 5,
			MinScore: 0.1, BoostFactor: 1.0, Priority: 1.0,
		},
	}
	loader := func() ([]core.TopicConfig, error) { return topics, nil }
	o := newTestOrchestrator(t, &fakeItemSource{items: trendingItems()}, loader)

	results, err := o.RunTopics(context.Background(), 24)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 2 {
		t.Fatalf("expected entries for both topics, got %d", len(results))
	}

	taiwan, ok := results["taiwan"]
	if !ok {
		t.Fatal("missing taiwan entry")
	}
	if len(taiwan.TopicPicks) != 1 {
		t.Fatalf("expected 1 taiwan pick, got %d", len(taiwan.TopicPicks))
	}
	pick := taiwan.TopicPicks[0]
	if pick.SelectionType != core.SelectionTopic || pick.TopicKey != "taiwan" {
		t.Errorf("unexpected pick shape: %+v", pick)
	}
	if pick.TopicPriority != 2.0 {
		t.Errorf("topic priority = %f, want 2.0", pick.TopicPriority)
	}
	if pick.AdjustedScore <= pick.ScoreTotal {
		t.Error("priority 2.0 should raise adjusted score above raw composite")
	}

	crypto, ok := results["crypto"]
	if !ok {
		t.Fatal("topics with no matching items must still produce an entry")
	}
	if crypto.TotalPicks() != 0 {
		t.Errorf("crypto should have an empty selection, got %d picks", crypto.TotalPicks())
	}
}

func TestRunTopicsRespectsCadence(t *testing.T) {
	topics := []core.TopicConfig{{
		Name: "Taiwan", TopicKey: "taiwan", Queries: []string{"taiwan"},
		Enabled: true, CadenceMinutes: 60, MaxPostsPerRun: 5,
		MinScore: 0.1, BoostFactor: 1.0, Priority: 1.0,
	}}
	loader := func() ([]core.TopicConfig, error) { return topics, nil }

	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cadence := NewCadenceStateWithClock(func() time.Time { return current })

	o := newTestOrchestrator(t, &fakeItemSource{items: trendingItems()}, loader,
		WithCadenceState(cadence))

	first, err := o.RunTopics(context.Background(), 24)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := first["taiwan"]; !ok {
		t.Fatal("first run should process the topic")
	}

	// Ten minutes later the 60-minute cadence has not elapsed.
	current = current.Add(10 * time.Minute)
	second, err := o.RunTopics(context.Background(), 24)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("topic within cadence should be skipped, got %v", second)
	}

	// After the cadence elapses the topic runs again.
	current = current.Add(time.Hour)
	third, err := o.RunTopics(context.Background(), 24)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := third["taiwan"]; !ok {
		t.Error("topic should run again after cadence elapses")
	}
}

func TestRunTopicsLoaderFailure(t *testing.T) {
	loader := func() ([]core.TopicConfig, error) { return nil, errors.New("bad yaml") }
	o := newTestOrchestrator(t, &fakeItemSource{items: trendingItems()}, loader)

	if _, err := o.RunTopics(context.Background(), 24); err == nil {
		t.Error("expected error when topic loading fails")
	}
}

func TestRunTopicsDisabledTopicSkipped(t *testing.T) {
	topics := []core.TopicConfig{{
		Name: "Taiwan", TopicKey: "taiwan", Queries: []string{"taiwan"},
		Enabled: false, CadenceMinutes: 60,
	}}
	loader := func() ([]core.TopicConfig, error) { return topics, nil }
	o := newTestOrchestrator(t, &fakeItemSource{items: trendingItems()}, loader)

	results, err := o.RunTopics(context.Background(), 24)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("disabled topics should not run, got %v", results)
	}
}

func TestCadenceStateConcurrentAccess(t *testing.T) {
	cadence := NewCadenceState()

	var wg sync.WaitGroup
	allowed := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- cadence.ShouldRun("same-topic", time.Hour)
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Errorf("exactly one concurrent caller should win, got %d", count)
	}
}
