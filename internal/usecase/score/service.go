// Package score implements the Scorer pipeline stage (spec.md §4.6):
// computing each active cluster's ranking score and lead article.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/repository"
)

// windowHours is the default scoring window (spec §4.6).
const windowHours = 7 * 24

// Stats reports the outcome of a Score run.
type Stats struct {
	Scored int64
	Errors int64
}

// Service implements the Scorer.
type Service struct {
	Clusters repository.ClusterRepository
	Scores   repository.ClusterScoreRepository
	Articles repository.ArticleRepository
}

// NewService constructs a Scorer service.
func NewService(clusters repository.ClusterRepository, scores repository.ClusterScoreRepository, articles repository.ArticleRepository) *Service {
	return &Service{Clusters: clusters, Scores: scores, Articles: articles}
}

// Score recomputes and upserts the score row for every cluster with at
// least one article in the window (spec §4.6). The Scorer is the sole
// writer of the score column; the maintenance pass must never touch it.
func (s *Service) Score(ctx context.Context) (Stats, error) {
	var stats Stats

	clusterIDs, err := s.Scores.ListWindow(ctx, windowHours)
	if err != nil {
		return stats, fmt.Errorf("list clusters in window: %w", err)
	}

	for _, clusterID := range clusterIDs {
		if err := s.scoreOne(ctx, clusterID); err != nil {
			stats.Errors++
			slog.Warn("failed to score cluster", slog.Int64("cluster_id", clusterID), slog.Any("error", err))
			continue
		}
		stats.Scored++
	}

	return stats, nil
}

func (s *Service) scoreOne(ctx context.Context, clusterID int64) error {
	memberIDs, err := s.Clusters.MemberIDs(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("member ids: %w", err)
	}
	if len(memberIDs) == 0 {
		return nil
	}

	var lead *entity.Article
	for _, id := range memberIDs {
		article, err := s.Articles.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get article %d: %w", id, err)
		}
		if lead == nil || isMoreRecentLead(article, lead) {
			lead = article
		}
	}

	deltaHours := 0.0
	if lead.PublishedAt != nil {
		deltaHours = time.Since(*lead.PublishedAt).Hours()
	}

	row := &entity.ClusterScore{
		ClusterID:     clusterID,
		LeadArticleID: lead.ID,
		Size:          len(memberIDs),
		Score:         entity.ScoreOf(len(memberIDs), deltaHours),
		UpdatedAt:     time.Now(),
	}
	if err := row.Validate(); err != nil {
		return fmt.Errorf("validate score row: %w", err)
	}
	return s.Scores.Upsert(ctx, row)
}

// isMoreRecentLead reports whether candidate should replace the current
// lead: most-recent published_at wins, tie-break highest article id
// (spec §4.6).
func isMoreRecentLead(candidate, current *entity.Article) bool {
	cp, lp := candidate.PublishedAt, current.PublishedAt
	switch {
	case cp == nil && lp == nil:
		return candidate.ID > current.ID
	case cp == nil:
		return false
	case lp == nil:
		return true
	case !cp.Equal(*lp):
		return cp.After(*lp)
	default:
		return candidate.ID > current.ID
	}
}
