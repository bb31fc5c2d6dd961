package core

import "time"

// ClusterStatus enumerates the lifecycle states of a cluster.
type ClusterStatus string

const (
	ClusterStatusOpen   ClusterStatus = "open"
	ClusterStatusPicked ClusterStatus = "picked"
	ClusterStatusStale  ClusterStatus = "stale"
)

// RawItem represents a normalized news item ingested from an RSS/Atom feed.
// Items are immutable once ingested.
type RawItem struct {
	ID          string    `json:"id"`           // Unique identifier for the item
	Title       string    `json:"title"`        // Item headline
	Summary     string    `json:"summary"`      // Item summary/description (plain text)
	Content     string    `json:"content"`      // Full content when available (plain text)
	URL         string    `json:"url"`          // Canonical article URL
	Domain      string    `json:"domain"`       // Source domain, lowercased host of URL
	SourceURL   string    `json:"source_url"`   // URL of the feed the item came from
	Language    string    `json:"language"`     // ISO language code, may be empty
	PublishedAt time.Time `json:"published_at"` // Publication timestamp (UTC)
	FetchedAt   time.Time `json:"fetched_at"`   // When the item was fetched (UTC)
}

// Cluster represents a group of topically similar raw items with a running
// centroid in embedding space.
type Cluster struct {
	ID             int64          `json:"id"`              // Assigned on creation
	Centroid       []float64      `json:"centroid"`        // Mean embedding of member items, nil before first item
	TopicKey       string         `json:"topic_key"`       // Empty for globally-scoped clusters
	FirstSeen      time.Time      `json:"first_seen"`      // Earliest item timestamp observed
	LastSeen       time.Time      `json:"last_seen"`       // Latest item timestamp observed
	ItemsCount     int            `json:"items_count"`     // Number of ClusterItem rows referencing this cluster
	Domains        map[string]int `json:"domains"`         // Domain -> item count, used for diversity scoring
	ScoreTrend     float64        `json:"score_trend"`     // Last computed trend-spike score
	ScoreFresh     float64        `json:"score_freshness"` // Last computed freshness score
	ScoreDiversity float64        `json:"score_diversity"` // Last computed diversity score
	ScoreTotal     float64        `json:"score_total"`     // Last computed composite score
	Status         ClusterStatus  `json:"status"`          // open, picked, or stale
}

// ClusterItem is the association between a cluster and a raw item, recorded
// with the cosine similarity to the cluster centroid at assignment time.
type ClusterItem struct {
	ClusterID    int64     `json:"cluster_id"`
	RawItemID    string    `json:"raw_item_id"`
	SourceDomain string    `json:"source_domain"`
	Similarity   float64   `json:"similarity"` // Cosine similarity in [0,1] at assignment time
	CreatedAt    time.Time `json:"created_at"`
}

// ClusterMetrics holds the per-cluster scores computed on a scoring pass.
// Metrics are derived fresh from the cluster's current item set each pass
// and are never mutated in place.
type ClusterMetrics struct {
	ClusterID      int64   `json:"cluster_id"`
	ViralScore     float64 `json:"viral_score"`     // Trend-spike score in [0,1]
	FreshnessScore float64 `json:"freshness_score"` // Recency score in [0,1]
	DiversityScore float64 `json:"diversity_score"` // Source diversity score in [0,1]
	VolumeScore    float64 `json:"volume_score"`    // Item volume score in [0,1]
	QualityScore   float64 `json:"quality_score"`   // Content quality score in [0,1]
	CompositeScore float64 `json:"composite_score"` // Weighted composite in [0,1]
	ItemCount      int     `json:"item_count"`
	AvgAgeHours    float64 `json:"avg_age_hours"`
	UniqueSources  int     `json:"unique_sources"`
	UniqueDomains  int     `json:"unique_domains"`
}

// TopicConfig describes a configured topic scope: query strings, hard
// filters, cadence, and selection parameters. Loaded from topics.yaml and
// immutable during a run.
type TopicConfig struct {
	Name           string   `yaml:"name" json:"name"`
	TopicKey       string   `yaml:"topic_key" json:"topic_key"` // Slug, derived from Name when absent
	Queries        []string `yaml:"queries" json:"queries"`
	AllowDomains   []string `yaml:"allow_domains" json:"allow_domains"` // Empty = unrestricted
	Lang           string   `yaml:"lang" json:"lang"`                   // Optional language filter
	CadenceMinutes int      `yaml:"cadence_minutes" json:"cadence_minutes"`
	MaxPostsPerRun int      `yaml:"max_posts_per_run" json:"max_posts_per_run"`
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	BoostFactor    float64  `yaml:"boost_factor" json:"boost_factor"` // Multiplies match score
	MinScore       float64  `yaml:"min_score" json:"min_score"`       // Match-score floor
	Priority       float64  `yaml:"priority" json:"priority"`         // Weights composite scores, breaks duplicate ties
}

// SelectionType distinguishes global picks from topic-scoped picks.
type SelectionType string

const (
	SelectionGlobal SelectionType = "global"
	SelectionTopic  SelectionType = "topic"
)

// SelectedPick is one cluster chosen as a final trending output.
type SelectedPick struct {
	ClusterID     int64         `json:"cluster_id"`
	ScoreTotal    float64       `json:"score_total"`    // Raw composite score
	AdjustedScore float64       `json:"adjusted_score"` // priority * score_total for topic picks
	SelectionType SelectionType `json:"selection_type"`
	TopicKey      string        `json:"topic_key,omitempty"`
	TopicPriority float64       `json:"topic_priority,omitempty"`
	Rank          int           `json:"rank"` // 1-based within its scope
}

// Selection is the final output of a pipeline run.
type Selection struct {
	GlobalPicks []SelectedPick `json:"global_picks"`
	TopicPicks  []SelectedPick `json:"topic_picks"`
}

// TotalPicks returns the combined number of global and topic picks.
func (s Selection) TotalPicks() int {
	return len(s.GlobalPicks) + len(s.TopicPicks)
}

// TopicsRepresented returns the number of distinct topics present in the
// topic picks.
func (s Selection) TopicsRepresented() int {
	seen := make(map[string]bool)
	for _, p := range s.TopicPicks {
		if p.TopicKey != "" {
			seen[p.TopicKey] = true
		}
	}
	return len(seen)
}

// ClusterStats summarizes one clustering pass.
type ClusterStats struct {
	TotalItems      int           `json:"total_items"`
	NewClusters     int           `json:"new_clusters"`
	UpdatedClusters int           `json:"updated_clusters"`
	ItemsClustered  int           `json:"items_clustered"`
	ProcessingTime  time.Duration `json:"processing_time"`
}

// PipelineStats tracks stage timings and counts for one orchestrator run.
type PipelineStats struct {
	WindowHours    int                      `json:"window_hours"`
	ItemsLoaded    int                      `json:"items_loaded"`
	ClustersScored int                      `json:"clusters_scored"`
	PicksSelected  int                      `json:"picks_selected"`
	StageDurations map[string]time.Duration `json:"stage_durations"`
	StartedAt      time.Time                `json:"started_at"`
	CompletedAt    time.Time                `json:"completed_at"`
}
