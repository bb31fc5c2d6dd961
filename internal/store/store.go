package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trender/internal/core"
)

// Store persists raw items, clusters, and cluster memberships in SQLite
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trender.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	rawItemsTable := `
	CREATE TABLE IF NOT EXISTS raw_items (
		id TEXT PRIMARY KEY,
		title TEXT,
		summary TEXT,
		content TEXT,
		url TEXT,
		domain TEXT,
		source_url TEXT,
		language TEXT,
		published_at DATETIME,
		fetched_at DATETIME
	);`

	clustersTable := `
	CREATE TABLE IF NOT EXISTS clusters (
		id INTEGER PRIMARY KEY,
		centroid TEXT,
		topic_key TEXT,
		first_seen DATETIME,
		last_seen DATETIME,
		items_count INTEGER,
		domains TEXT,
		score_trend REAL DEFAULT 0,
		score_freshness REAL DEFAULT 0,
		score_diversity REAL DEFAULT 0,
		score_total REAL DEFAULT 0,
		status TEXT DEFAULT 'open'
	);`

	clusterItemsTable := `
	CREATE TABLE IF NOT EXISTS cluster_items (
		cluster_id INTEGER,
		raw_item_id TEXT,
		source_domain TEXT,
		similarity REAL,
		created_at DATETIME,
		PRIMARY KEY (cluster_id, raw_item_id),
		FOREIGN KEY (cluster_id) REFERENCES clusters (id),
		FOREIGN KEY (raw_item_id) REFERENCES raw_items (id)
	);`

	tables := []string{rawItemsTable, clustersTable, clusterItemsTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRawItems stores a batch of raw items in one transaction. Existing
// items with the same id are replaced.
func (s *Store) SaveRawItems(items []core.RawItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	INSERT OR REPLACE INTO raw_items
	(id, title, summary, content, url, domain, source_url, language, published_at, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.Exec(
			item.ID,
			item.Title,
			item.Summary,
			item.Content,
			item.URL,
			item.Domain,
			item.SourceURL,
			item.Language,
			item.PublishedAt,
			item.FetchedAt,
		); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
		}
	}

	return tx.Commit()
}

// GetRecentRawItems returns items published within the window, newest
// first.
func (s *Store) GetRecentRawItems(windowHours int) ([]core.RawItem, error) {
	query := `
	SELECT id, title, summary, content, url, domain, source_url, language, published_at, fetched_at
	FROM raw_items
	WHERE published_at > ?
	ORDER BY published_at DESC`

	cutoff := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)
	rows, err := s.db.Query(query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent items: %w", err)
	}
	defer rows.Close()

	var items []core.RawItem
	for rows.Next() {
		var item core.RawItem
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Summary,
			&item.Content,
			&item.URL,
			&item.Domain,
			&item.SourceURL,
			&item.Language,
			&item.PublishedAt,
			&item.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpsertCluster writes a cluster row, replacing any existing row with the
// same id. Centroid and domain counts are stored as JSON.
func (s *Store) UpsertCluster(cluster *core.Cluster) error {
	centroid, err := json.Marshal(cluster.Centroid)
	if err != nil {
		return fmt.Errorf("failed to marshal centroid: %w", err)
	}
	domains, err := json.Marshal(cluster.Domains)
	if err != nil {
		return fmt.Errorf("failed to marshal domains: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO clusters
	(id, centroid, topic_key, first_seen, last_seen, items_count, domains,
	 score_trend, score_freshness, score_diversity, score_total, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query,
		cluster.ID,
		string(centroid),
		cluster.TopicKey,
		cluster.FirstSeen,
		cluster.LastSeen,
		cluster.ItemsCount,
		string(domains),
		cluster.ScoreTrend,
		cluster.ScoreFresh,
		cluster.ScoreDiversity,
		cluster.ScoreTotal,
		string(cluster.Status),
	)
	return err
}

// LoadOpenClusters returns all clusters with status open, optionally
// restricted to a topic key (empty key means globally-scoped clusters
// only).
func (s *Store) LoadOpenClusters(topicKey string) ([]*core.Cluster, error) {
	query := `
	SELECT id, centroid, topic_key, first_seen, last_seen, items_count, domains,
	       score_trend, score_freshness, score_diversity, score_total, status
	FROM clusters
	WHERE status = 'open' AND topic_key = ?
	ORDER BY id`

	rows, err := s.db.Query(query, topicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*core.Cluster
	for rows.Next() {
		var cluster core.Cluster
		var centroid, domains, status string
		if err := rows.Scan(
			&cluster.ID,
			&centroid,
			&cluster.TopicKey,
			&cluster.FirstSeen,
			&cluster.LastSeen,
			&cluster.ItemsCount,
			&domains,
			&cluster.ScoreTrend,
			&cluster.ScoreFresh,
			&cluster.ScoreDiversity,
			&cluster.ScoreTotal,
			&status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		if err := json.Unmarshal([]byte(centroid), &cluster.Centroid); err != nil {
			return nil, fmt.Errorf("failed to unmarshal centroid for cluster %d: %w", cluster.ID, err)
		}
		if err := json.Unmarshal([]byte(domains), &cluster.Domains); err != nil {
			return nil, fmt.Errorf("failed to unmarshal domains for cluster %d: %w", cluster.ID, err)
		}
		cluster.Status = core.ClusterStatus(status)
		clusters = append(clusters, &cluster)
	}
	return clusters, rows.Err()
}

// AttachItemToCluster records a cluster membership. Re-attaching the same
// item to the same cluster is a no-op.
func (s *Store) AttachItemToCluster(ci core.ClusterItem) error {
	query := `
	INSERT OR IGNORE INTO cluster_items
	(cluster_id, raw_item_id, source_domain, similarity, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		ci.ClusterID,
		ci.RawItemID,
		ci.SourceDomain,
		ci.Similarity,
		ci.CreatedAt,
	)
	return err
}

// GetItemsForCluster returns the raw items attached to a cluster.
func (s *Store) GetItemsForCluster(clusterID int64) ([]core.RawItem, error) {
	query := `
	SELECT r.id, r.title, r.summary, r.content, r.url, r.domain, r.source_url,
	       r.language, r.published_at, r.fetched_at
	FROM raw_items r
	JOIN cluster_items ci ON ci.raw_item_id = r.id
	WHERE ci.cluster_id = ?
	ORDER BY r.published_at DESC`

	rows, err := s.db.Query(query, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster items: %w", err)
	}
	defer rows.Close()

	var items []core.RawItem
	for rows.Next() {
		var item core.RawItem
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Summary,
			&item.Content,
			&item.URL,
			&item.Domain,
			&item.SourceURL,
			&item.Language,
			&item.PublishedAt,
			&item.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateClusterScores writes computed metrics back onto cluster rows in
// one transaction.
func (s *Store) UpdateClusterScores(metrics []core.ClusterMetrics) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	UPDATE clusters
	SET score_trend = ?, score_freshness = ?, score_diversity = ?, score_total = ?
	WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.Exec(
			m.ViralScore,
			m.FreshnessScore,
			m.DiversityScore,
			m.CompositeScore,
			m.ClusterID,
		); err != nil {
			return fmt.Errorf("failed to update cluster %d: %w", m.ClusterID, err)
		}
	}

	return tx.Commit()
}

// ClusterIDAllocator returns a function handing out cluster ids above
// the highest id currently stored, safe for concurrent use.
func (s *Store) ClusterIDAllocator() (func() int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM clusters`).Scan(&max); err != nil {
		return nil, fmt.Errorf("failed to query max cluster id: %w", err)
	}

	next := max.Int64
	var mu sync.Mutex
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next
	}, nil
}

// MarkClustersPicked flips the given clusters to picked status.
func (s *Store) MarkClustersPicked(clusterIDs []int64) error {
	if len(clusterIDs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range clusterIDs {
		if _, err := tx.Exec(`UPDATE clusters SET status = 'picked' WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to mark cluster %d: %w", id, err)
		}
	}
	return tx.Commit()
}
