package entity

import "time"

// Cluster is a set of articles judged by embedding similarity to describe
// the same story.
type Cluster struct {
	ID        int64
	Key       string
	CreatedAt time.Time
}

// ClusterScore is the per-cluster rolled-up ranking state the Scorer
// maintains. One row per cluster.
type ClusterScore struct {
	ClusterID     int64
	LeadArticleID int64
	Size          int
	Score         float64
	UpdatedAt     time.Time
}

// Validate checks the ClusterScore entity's invariants (spec §3 invariant 3
// is enforced at the repository layer via the article_clusters join, not
// here — this only validates the row's own shape).
func (cs *ClusterScore) Validate() error {
	if cs.ClusterID <= 0 {
		return &ValidationError{Field: "cluster_id", Message: "cluster_id is required"}
	}
	if cs.LeadArticleID <= 0 {
		return &ValidationError{Field: "lead_article_id", Message: "lead_article_id is required"}
	}
	if cs.Size < 1 {
		return &ValidationError{Field: "size", Message: "size must be at least 1"}
	}
	return nil
}

// ScoreOf computes the spec's canonical score: 0.6*size + 0.4*(-Δhours/1),
// where deltaHours is the number of hours since the cluster's most recent
// article was published. Newer articles (smaller deltaHours) score higher.
func ScoreOf(size int, deltaHours float64) float64 {
	return 0.6*float64(size) + 0.4*(-deltaHours/1.0)
}
