package repository

import (
	"context"

	"github.com/dwahbe/climate-river/internal/domain/entity"
)

// ClusterRepository persists Cluster and ArticleCluster rows.
type ClusterRepository interface {
	Create(ctx context.Context, cluster *entity.Cluster) error

	// AssignArticle adds articleID to clusterID's membership. Fails if the
	// article already belongs to a different cluster (invariant 2).
	AssignArticle(ctx context.Context, clusterID, articleID int64) error

	// ClusterIDForArticle returns the cluster an article belongs to, or
	// entity.ErrNotFound if it is unclustered.
	ClusterIDForArticle(ctx context.Context, articleID int64) (int64, error)

	// MemberIDs returns the article ids currently in a cluster.
	MemberIDs(ctx context.Context, clusterID int64) ([]int64, error)

	// ListUnclustered returns article ids within the window that have an
	// embedding but no article_clusters row (retroactive join candidates).
	ListUnclustered(ctx context.Context, windowHours int) ([]int64, error)

	// ListCandidatePairs returns cluster id pairs (A.id < B.id) that both
	// have at least one article within the window, for the merge pass to
	// evaluate cross-similarity over.
	ListCandidatePairs(ctx context.Context, windowHours int) ([][2]int64, error)

	// Merge moves every member of fromClusterID into intoClusterID and
	// deletes fromClusterID (and its cluster_scores row), in a single
	// transaction, preserving invariant 2 (spec §9 "database transactions").
	Merge(ctx context.Context, intoClusterID, fromClusterID int64) error

	// DeleteOrphans removes clusters (and their cluster_scores rows) with
	// zero remaining members, returning the count deleted.
	DeleteOrphans(ctx context.Context) (int64, error)
}

// ClusterScoreRepository persists the per-cluster ranking rollup.
type ClusterScoreRepository interface {
	// Upsert writes a cluster's score row inside a single transaction per
	// invocation (spec §9).
	Upsert(ctx context.Context, score *entity.ClusterScore) error

	// ListWindow returns the cluster ids with at least one article
	// published within the window (spec §4.6 scope of the Scorer pass).
	ListWindow(ctx context.Context, windowHours int) ([]int64, error)
}
