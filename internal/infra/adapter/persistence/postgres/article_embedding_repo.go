package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/dwahbe/climate-river/internal/repository"
)

// ArticleEmbeddingRepo implements repository.ArticleEmbeddingRepository
// over the articles.embedding pgvector column.
type ArticleEmbeddingRepo struct{ db *sql.DB }

// NewArticleEmbeddingRepo creates a new PostgreSQL-backed ArticleEmbeddingRepository.
func NewArticleEmbeddingRepo(db *sql.DB) repository.ArticleEmbeddingRepository {
	return &ArticleEmbeddingRepo{db: db}
}

// searchTimeout bounds the cosine-distance scan so a pathological query
// plan can't stall the stage calling it.
const searchTimeout = 5 * time.Second

func (repo *ArticleEmbeddingRepo) SearchSimilar(ctx context.Context, embedding []float32, minSimilarity float64, windowHours int, limit int) ([]repository.SimilarArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	query := `
SELECT id, 1 - (embedding <=> $1) AS similarity
FROM articles
WHERE embedding IS NOT NULL
  AND 1 - (embedding <=> $1) >= $2
  AND ($3 <= 0 OR coalesce(published_at, fetched_at) >= now() - make_interval(hours => $3))
ORDER BY embedding <=> $1
LIMIT $4`

	rows, err := repo.db.QueryContext(ctx, query, pgvector.NewVector(embedding), minSimilarity, windowHours, limit)
	if err != nil {
		return nil, fmt.Errorf("SearchSimilar: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]repository.SimilarArticle, 0, limit)
	for rows.Next() {
		var r repository.SimilarArticle
		if err := rows.Scan(&r.ArticleID, &r.Similarity); err != nil {
			return nil, fmt.Errorf("SearchSimilar: Scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (repo *ArticleEmbeddingRepo) AverageCrossSimilarity(ctx context.Context, articleIDsA, articleIDsB []int64, pairThreshold float64) (float64, int, error) {
	if len(articleIDsA) == 0 || len(articleIDsB) == 0 {
		return 0, 0, nil
	}

	const query = `
SELECT coalesce(avg(sim), 0), count(*) FILTER (WHERE sim > $3)
FROM (
    SELECT 1 - (a.embedding <=> b.embedding) AS sim
    FROM articles a
    JOIN articles b ON TRUE
    WHERE a.id = ANY($1) AND b.id = ANY($2)
      AND a.embedding IS NOT NULL AND b.embedding IS NOT NULL
) pairs`

	var avg float64
	var over int
	err := repo.db.QueryRowContext(ctx, query, articleIDsA, articleIDsB, pairThreshold).Scan(&avg, &over)
	if err != nil {
		return 0, 0, fmt.Errorf("AverageCrossSimilarity: %w", err)
	}
	return avg, over, nil
}
