// Package cluster implements the Clusterer pipeline stage (spec.md §4.5):
// embedding newly ingested articles and assigning/merging them into
// story clusters by cosine similarity.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/repository"
)

const (
	// similarityThreshold is the minimum cosine similarity for an article
	// to join an existing cluster (spec §4.5).
	similarityThreshold = 0.6

	// windowHours bounds how far back a candidate cluster member may have
	// published and still be considered (spec §4.5's 7-day window).
	windowHours = 7 * 24

	// mergeAvgThreshold/mergePairThreshold/mergeMinPairs gate the merge
	// pass (spec §4.5 step 2).
	mergeAvgThreshold  = 0.58
	mergePairThreshold = 0.55
	mergeMinPairs      = 2

	// embeddingConcurrency bounds concurrent embedding requests (spec §5's
	// resource model: "embedding=4 requests").
	embeddingConcurrency = 4

	// candidateSearchLimit caps how many similarity hits are considered
	// when picking the best cluster for a single article.
	candidateSearchLimit = 20
)

// Embedder produces an embedding vector for a piece of text. Implemented
// by infra/embed.OpenAI.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Stats reports the outcome of an EmbedPending or Assign pass.
type Stats struct {
	Embedded       int64
	EmbedErrors    int64
	Assigned       int64
	SingletonsMade int64
	AssignErrors   int64
}

// MaintenanceStats reports the outcome of a maintenance pass.
type MaintenanceStats struct {
	RetroactiveJoins int64
	Merges           int64
	OrphansDeleted   int64
	Errors           int64
}

// Service implements the Clusterer.
type Service struct {
	Articles   repository.ArticleRepository
	Clusters   repository.ClusterRepository
	Embeddings repository.ArticleEmbeddingRepository
	Embedder   Embedder
}

// NewService constructs a Clusterer service.
func NewService(articles repository.ArticleRepository, clusters repository.ClusterRepository, embeddings repository.ArticleEmbeddingRepository, embedder Embedder) *Service {
	return &Service{Articles: articles, Clusters: clusters, Embeddings: embeddings, Embedder: embedder}
}

// EmbedPending computes embeddings for up to limit articles that don't
// have one yet, bounding concurrency to embeddingConcurrency, then assigns
// each successfully embedded article to a cluster.
func (s *Service) EmbedPending(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	articles, err := s.Articles.ListUnembedded(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("list unembedded articles: %w", err)
	}

	sem := make(chan struct{}, embeddingConcurrency)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, article := range articles {
		article := article
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			text := embeddingText(article)
			vec, err := s.Embedder.Embed(egCtx, text)
			if err != nil {
				atomic.AddInt64(&stats.EmbedErrors, 1)
				slog.Warn("article embedding failed",
					slog.Int64("article_id", article.ID), slog.Any("error", err))
				return nil
			}
			if err := s.Articles.UpdateEmbedding(egCtx, article.ID, vec); err != nil {
				atomic.AddInt64(&stats.EmbedErrors, 1)
				slog.Warn("failed to persist article embedding",
					slog.Int64("article_id", article.ID), slog.Any("error", err))
				return nil
			}
			atomic.AddInt64(&stats.Embedded, 1)

			if err := s.assignOne(egCtx, article.ID, vec, &stats); err != nil {
				atomic.AddInt64(&stats.AssignErrors, 1)
				slog.Warn("cluster assignment failed",
					slog.Int64("article_id", article.ID), slog.Any("error", err))
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func embeddingText(article *entity.Article) string {
	if article.Dek != "" {
		return article.Title + " " + article.Dek
	}
	return article.Title
}

// assignOne implements single-article cluster assignment (spec §4.5): the
// highest-similarity existing cluster wins, or a new singleton cluster is
// created when no candidate clears the threshold.
func (s *Service) assignOne(ctx context.Context, articleID int64, embedding []float32, stats *Stats) error {
	hits, err := s.Embeddings.SearchSimilar(ctx, embedding, similarityThreshold, windowHours, candidateSearchLimit)
	if err != nil {
		return fmt.Errorf("search similar articles: %w", err)
	}

	clusterID, err := s.bestCandidateCluster(ctx, articleID, hits)
	if err != nil {
		return err
	}

	if clusterID != 0 {
		if err := s.Clusters.AssignArticle(ctx, clusterID, articleID); err != nil {
			return fmt.Errorf("assign to cluster %d: %w", clusterID, err)
		}
		atomic.AddInt64(&stats.Assigned, 1)
		return nil
	}

	newCluster := &entity.Cluster{Key: uuid.NewString()}
	if err := s.Clusters.Create(ctx, newCluster); err != nil {
		return fmt.Errorf("create singleton cluster: %w", err)
	}
	if err := s.Clusters.AssignArticle(ctx, newCluster.ID, articleID); err != nil {
		return fmt.Errorf("assign to new singleton cluster %d: %w", newCluster.ID, err)
	}
	atomic.AddInt64(&stats.SingletonsMade, 1)
	return nil
}

// bestCandidateCluster walks similarity hits in descending similarity
// order (SearchSimilar's contract) and returns the cluster id of the
// first hit that already belongs to some cluster, skipping the article
// itself and unclustered hits.
func (s *Service) bestCandidateCluster(ctx context.Context, articleID int64, hits []repository.SimilarArticle) (int64, error) {
	for _, hit := range hits {
		if hit.ArticleID == articleID {
			continue
		}
		clusterID, err := s.Clusters.ClusterIDForArticle(ctx, hit.ArticleID)
		if err == entity.ErrNotFound {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("lookup cluster for similar article %d: %w", hit.ArticleID, err)
		}
		return clusterID, nil
	}
	return 0, nil
}

// Maintain runs the periodic retroactive-join, merge, and orphan-cleanup
// passes (spec §4.5 "Maintenance pass").
func (s *Service) Maintain(ctx context.Context) (MaintenanceStats, error) {
	var stats MaintenanceStats

	if err := s.retroactiveJoin(ctx, &stats); err != nil {
		return stats, fmt.Errorf("retroactive join: %w", err)
	}
	if err := s.mergePass(ctx, &stats); err != nil {
		return stats, fmt.Errorf("merge pass: %w", err)
	}

	deleted, err := s.Clusters.DeleteOrphans(ctx)
	if err != nil {
		return stats, fmt.Errorf("delete orphan clusters: %w", err)
	}
	stats.OrphansDeleted = deleted

	return stats, nil
}

// retroactiveJoin implements spec §4.5 maintenance step 1: unclustered
// articles within the window join an existing cluster if one now clears
// the similarity threshold.
func (s *Service) retroactiveJoin(ctx context.Context, stats *MaintenanceStats) error {
	unclustered, err := s.Clusters.ListUnclustered(ctx, windowHours)
	if err != nil {
		return fmt.Errorf("list unclustered articles: %w", err)
	}

	for _, articleID := range unclustered {
		article, err := s.Articles.Get(ctx, articleID)
		if err != nil {
			stats.Errors++
			continue
		}
		if len(article.Embedding) == 0 {
			continue
		}

		hits, err := s.Embeddings.SearchSimilar(ctx, article.Embedding, similarityThreshold, windowHours, candidateSearchLimit)
		if err != nil {
			stats.Errors++
			continue
		}
		clusterID, err := s.bestCandidateCluster(ctx, articleID, hits)
		if err != nil {
			stats.Errors++
			continue
		}
		if clusterID == 0 {
			continue
		}
		if err := s.Clusters.AssignArticle(ctx, clusterID, articleID); err != nil {
			stats.Errors++
			slog.Warn("retroactive join failed",
				slog.Int64("article_id", articleID), slog.Int64("cluster_id", clusterID), slog.Any("error", err))
			continue
		}
		stats.RetroactiveJoins++
	}
	return nil
}

type mergeCandidate struct {
	into, from    int64
	avgSimilarity float64
}

// mergePass implements spec §4.5 maintenance step 2: evaluate all
// candidate cluster pairs, keep the ones clearing both thresholds, and
// merge them in descending avg-similarity order, recomputing sizes
// between merges since an earlier merge can change a later pair's
// membership.
func (s *Service) mergePass(ctx context.Context, stats *MaintenanceStats) error {
	pairs, err := s.Clusters.ListCandidatePairs(ctx, windowHours)
	if err != nil {
		return fmt.Errorf("list candidate pairs: %w", err)
	}

	merged := make(map[int64]bool) // clusters already merged away this pass

	for {
		best, ok, err := s.bestMergeCandidate(ctx, pairs, merged)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		intoID, fromID := best.into, best.from
		if sizeOf(ctx, s.Clusters, fromID) > sizeOf(ctx, s.Clusters, intoID) {
			intoID, fromID = fromID, intoID
		}

		if err := s.Clusters.Merge(ctx, intoID, fromID); err != nil {
			stats.Errors++
			slog.Warn("cluster merge failed",
				slog.Int64("into", intoID), slog.Int64("from", fromID), slog.Any("error", err))
			merged[fromID] = true // don't retry this pair forever
			continue
		}
		merged[fromID] = true
		stats.Merges++
	}
}

// bestMergeCandidate evaluates every not-yet-merged pair's cross
// similarity and returns the single best one clearing both thresholds, so
// mergePass always processes pairs in descending avg-similarity order
// (spec §4.5's ordering invariant).
func (s *Service) bestMergeCandidate(ctx context.Context, pairs [][2]int64, merged map[int64]bool) (mergeCandidate, bool, error) {
	var candidates []mergeCandidate

	for _, pair := range pairs {
		a, b := pair[0], pair[1]
		if merged[a] || merged[b] {
			continue
		}

		membersA, err := s.Clusters.MemberIDs(ctx, a)
		if err != nil {
			return mergeCandidate{}, false, fmt.Errorf("members of cluster %d: %w", a, err)
		}
		membersB, err := s.Clusters.MemberIDs(ctx, b)
		if err != nil {
			return mergeCandidate{}, false, fmt.Errorf("members of cluster %d: %w", b, err)
		}

		avg, overThreshold, err := s.Embeddings.AverageCrossSimilarity(ctx, membersA, membersB, mergePairThreshold)
		if err != nil {
			return mergeCandidate{}, false, fmt.Errorf("cross similarity of %d/%d: %w", a, b, err)
		}
		if avg > mergeAvgThreshold && overThreshold >= mergeMinPairs {
			candidates = append(candidates, mergeCandidate{into: a, from: b, avgSimilarity: avg})
		}
	}

	if len(candidates) == 0 {
		return mergeCandidate{}, false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].avgSimilarity > candidates[j].avgSimilarity
	})
	return candidates[0], true, nil
}

func sizeOf(ctx context.Context, clusters repository.ClusterRepository, clusterID int64) int {
	members, err := clusters.MemberIDs(ctx, clusterID)
	if err != nil {
		return 0
	}
	return len(members)
}
