package cluster

import (
	"trender/internal/core"
	"trender/internal/embed"
)

// DefaultMinIntraSimilarity flags clusters whose members sit too far from
// their own centroid.
const DefaultMinIntraSimilarity = 0.5

// CoherenceReport summarizes how well a clustering pass held together.
// Intra-cluster similarity is the mean cosine of member embeddings to
// their centroid; separation is the mean pairwise centroid similarity,
// where lower means better-separated clusters.
type CoherenceReport struct {
	ClustersEvaluated  int     `json:"clusters_evaluated"`
	AvgIntraSimilarity float64 `json:"avg_intra_similarity"`
	CentroidSeparation float64 `json:"centroid_separation"`
	LowCohesion        []int64 `json:"low_cohesion,omitempty"`
}

// EvaluateCoherence measures cluster quality over the items assigned in
// one pass. Only members present in vectorsByItem contribute; clusters
// with no measurable members are skipped.
func EvaluateCoherence(
	clusters []*core.Cluster,
	vectorsByItem map[string][]float64,
	assignments []core.ClusterItem,
	minIntraSim float64,
) CoherenceReport {
	report := CoherenceReport{}
	if len(clusters) == 0 {
		return report
	}

	members := make(map[int64][]string)
	for _, a := range assignments {
		members[a.ClusterID] = append(members[a.ClusterID], a.RawItemID)
	}

	var intraTotal float64
	for _, cl := range clusters {
		ids := members[cl.ID]
		if len(ids) == 0 || len(cl.Centroid) == 0 {
			continue
		}

		var sum float64
		var counted int
		for _, id := range ids {
			vec, ok := vectorsByItem[id]
			if !ok {
				continue
			}
			sum += embed.Cosine(vec, cl.Centroid)
			counted++
		}
		if counted == 0 {
			continue
		}

		intra := sum / float64(counted)
		intraTotal += intra
		report.ClustersEvaluated++
		if intra < minIntraSim {
			report.LowCohesion = append(report.LowCohesion, cl.ID)
		}
	}
	if report.ClustersEvaluated > 0 {
		report.AvgIntraSimilarity = intraTotal / float64(report.ClustersEvaluated)
	}

	report.CentroidSeparation = centroidSeparation(clusters)
	return report
}

// centroidSeparation returns the mean pairwise similarity between cluster
// centroids. A single cluster has nothing to compare against.
func centroidSeparation(clusters []*core.Cluster) float64 {
	var sum float64
	var pairs int
	for i := 0; i < len(clusters); i++ {
		if len(clusters[i].Centroid) == 0 {
			continue
		}
		for j := i + 1; j < len(clusters); j++ {
			if len(clusters[j].Centroid) == 0 {
				continue
			}
			sum += embed.Cosine(clusters[i].Centroid, clusters[j].Centroid)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}
