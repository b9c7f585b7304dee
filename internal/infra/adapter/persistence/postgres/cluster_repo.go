package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/repository"
)

// ClusterRepo implements repository.ClusterRepository over PostgreSQL.
type ClusterRepo struct{ db *sql.DB }

// NewClusterRepo creates a new PostgreSQL-backed ClusterRepository.
func NewClusterRepo(db *sql.DB) repository.ClusterRepository {
	return &ClusterRepo{db: db}
}

func (repo *ClusterRepo) Create(ctx context.Context, cluster *entity.Cluster) error {
	const query = `INSERT INTO clusters (key) VALUES ($1) RETURNING id, created_at`
	err := repo.db.QueryRowContext(ctx, query, cluster.Key).Scan(&cluster.ID, &cluster.CreatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *ClusterRepo) AssignArticle(ctx context.Context, clusterID, articleID int64) error {
	const query = `INSERT INTO article_clusters (article_id, cluster_id) VALUES ($1, $2)`
	if _, err := repo.db.ExecContext(ctx, query, articleID, clusterID); err != nil {
		return fmt.Errorf("AssignArticle: %w", err)
	}
	return nil
}

func (repo *ClusterRepo) ClusterIDForArticle(ctx context.Context, articleID int64) (int64, error) {
	const query = `SELECT cluster_id FROM article_clusters WHERE article_id = $1`
	var id int64
	err := repo.db.QueryRowContext(ctx, query, articleID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, entity.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ClusterIDForArticle: %w", err)
	}
	return id, nil
}

func (repo *ClusterRepo) MemberIDs(ctx context.Context, clusterID int64) ([]int64, error) {
	const query = `SELECT article_id FROM article_clusters WHERE cluster_id = $1`
	rows, err := repo.db.QueryContext(ctx, query, clusterID)
	if err != nil {
		return nil, fmt.Errorf("MemberIDs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInt64Rows(rows)
}

func (repo *ClusterRepo) ListUnclustered(ctx context.Context, windowHours int) ([]int64, error) {
	const query = `
SELECT a.id FROM articles a
LEFT JOIN article_clusters ac ON ac.article_id = a.id
WHERE ac.article_id IS NULL
  AND a.embedding IS NOT NULL
  AND coalesce(a.published_at, a.fetched_at) >= now() - make_interval(hours => $1)`
	rows, err := repo.db.QueryContext(ctx, query, windowHours)
	if err != nil {
		return nil, fmt.Errorf("ListUnclustered: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInt64Rows(rows)
}

func (repo *ClusterRepo) ListCandidatePairs(ctx context.Context, windowHours int) ([][2]int64, error) {
	const query = `
WITH windowed AS (
    SELECT DISTINCT ac.cluster_id
    FROM article_clusters ac
    JOIN articles a ON a.id = ac.article_id
    WHERE coalesce(a.published_at, a.fetched_at) >= now() - make_interval(hours => $1)
)
SELECT w1.cluster_id, w2.cluster_id
FROM windowed w1
JOIN windowed w2 ON w1.cluster_id < w2.cluster_id`
	rows, err := repo.db.QueryContext(ctx, query, windowHours)
	if err != nil {
		return nil, fmt.Errorf("ListCandidatePairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pairs := make([][2]int64, 0, 32)
	for rows.Next() {
		var pair [2]int64
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, fmt.Errorf("ListCandidatePairs: Scan: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// Merge reassigns every member of fromClusterID to intoClusterID and
// removes the now-empty source cluster, all inside one transaction so a
// reader never observes a half-merged pair (spec §9 database transactions).
func (repo *ClusterRepo) Merge(ctx context.Context, intoClusterID, fromClusterID int64) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Merge: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE article_clusters SET cluster_id = $1 WHERE cluster_id = $2`,
		intoClusterID, fromClusterID,
	); err != nil {
		return fmt.Errorf("Merge: reassign members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_scores WHERE cluster_id = $1`, fromClusterID); err != nil {
		return fmt.Errorf("Merge: delete score: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM clusters WHERE id = $1`, fromClusterID); err != nil {
		return fmt.Errorf("Merge: delete cluster: %w", err)
	}
	return tx.Commit()
}

func (repo *ClusterRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	const query = `
DELETE FROM clusters c
WHERE NOT EXISTS (SELECT 1 FROM article_clusters ac WHERE ac.cluster_id = c.id)`
	res, err := repo.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("DeleteOrphans: %w", err)
	}
	return res.RowsAffected()
}

// ClusterScoreRepo implements repository.ClusterScoreRepository over PostgreSQL.
type ClusterScoreRepo struct{ db *sql.DB }

// NewClusterScoreRepo creates a new PostgreSQL-backed ClusterScoreRepository.
func NewClusterScoreRepo(db *sql.DB) repository.ClusterScoreRepository {
	return &ClusterScoreRepo{db: db}
}

func (repo *ClusterScoreRepo) Upsert(ctx context.Context, score *entity.ClusterScore) error {
	const query = `
INSERT INTO cluster_scores (cluster_id, lead_article_id, size, score, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (cluster_id) DO UPDATE SET
    lead_article_id = EXCLUDED.lead_article_id,
    size            = EXCLUDED.size,
    score           = EXCLUDED.score,
    updated_at      = now()
RETURNING updated_at`
	err := repo.db.QueryRowContext(ctx, query,
		score.ClusterID, score.LeadArticleID, score.Size, score.Score,
	).Scan(&score.UpdatedAt)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *ClusterScoreRepo) ListWindow(ctx context.Context, windowHours int) ([]int64, error) {
	const query = `
SELECT DISTINCT cs.cluster_id
FROM cluster_scores cs
JOIN article_clusters ac ON ac.cluster_id = cs.cluster_id
JOIN articles a ON a.id = ac.article_id
WHERE coalesce(a.published_at, a.fetched_at) >= now() - make_interval(hours => $1)`
	rows, err := repo.db.QueryContext(ctx, query, windowHours)
	if err != nil {
		return nil, fmt.Errorf("ListWindow: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInt64Rows(rows)
}

func scanInt64Rows(rows *sql.Rows) ([]int64, error) {
	ids := make([]int64, 0, 32)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanInt64Rows: Scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
