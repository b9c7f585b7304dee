package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/repository"

	"github.com/pgvector/pgvector-go"
)

// ArticleRepo implements repository.ArticleRepository over PostgreSQL.
type ArticleRepo struct{ db *sql.DB }

// NewArticleRepo creates a new PostgreSQL-backed ArticleRepository.
func NewArticleRepo(db *sql.DB) repository.ArticleRepository {
	return &ArticleRepo{db: db}
}

const articleColumns = `
id, source_id, canonical_url, title, dek, author,
publisher_name, publisher_host, publisher_homepage,
published_at, fetched_at, embedding,
content_text, content_html, content_word_count, content_status, content_fetched_at,
rewritten_title, rewritten_at, rewrite_model, rewrite_notes, created_at`

func scanArticle(row interface{ Scan(dest ...interface{}) error }) (*entity.Article, error) {
	var a entity.Article
	var embedding pgvector.Vector
	var hasEmbedding sql.NullBool
	var rewrittenAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.SourceID, &a.CanonicalURL, &a.Title, &a.Dek, &a.Author,
		&a.PublisherName, &a.PublisherHost, &a.PublisherHomepage,
		&a.PublishedAt, &a.FetchedAt, scanNullVector{&embedding, &hasEmbedding},
		&a.ContentText, &a.ContentHTML, &a.ContentWordCount, &a.ContentStatus, &a.ContentFetchedAt,
		&a.RewrittenTitle, &rewrittenAt, &a.RewriteModel, &a.RewriteNotes, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if hasEmbedding.Bool {
		a.Embedding = embedding.Slice()
	}
	if rewrittenAt.Valid {
		t := rewrittenAt.Time
		a.RewrittenAt = &t
	}
	return &a, nil
}

// scanNullVector lets a nullable pgvector column scan into a plain
// pgvector.Vector while recording whether the value was NULL.
type scanNullVector struct {
	vector *pgvector.Vector
	valid  *sql.NullBool
}

func (s scanNullVector) Scan(src interface{}) error {
	if src == nil {
		s.valid.Valid = true
		s.valid.Bool = false
		return nil
	}
	s.valid.Valid = true
	s.valid.Bool = true
	return s.vector.Scan(src)
}

func (repo *ArticleRepo) Get(ctx context.Context, id int64) (*entity.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1 LIMIT 1`
	a, err := scanArticle(repo.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return a, nil
}

func (repo *ArticleRepo) GetByCanonicalURL(ctx context.Context, canonicalURL string) (*entity.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE canonical_url = $1 LIMIT 1`
	a, err := scanArticle(repo.db.QueryRowContext(ctx, query, canonicalURL))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetByCanonicalURL: %w", err)
	}
	return a, nil
}

// UpsertByCanonicalURL inserts a new article row, or, on a canonical_url
// collision, overwrites only the non-identifying fields (title, dek,
// author, published_at) when the incoming record is newer than the stored
// fetched_at (spec §4.1 step 2).
func (repo *ArticleRepo) UpsertByCanonicalURL(ctx context.Context, article *entity.Article) (repository.UpsertResult, error) {
	const query = `
INSERT INTO articles
    (source_id, canonical_url, title, dek, author,
     publisher_name, publisher_host, publisher_homepage, published_at, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (canonical_url) DO UPDATE SET
    title        = CASE WHEN EXCLUDED.fetched_at > articles.fetched_at THEN EXCLUDED.title ELSE articles.title END,
    dek          = CASE WHEN EXCLUDED.fetched_at > articles.fetched_at THEN EXCLUDED.dek ELSE articles.dek END,
    author       = CASE WHEN EXCLUDED.fetched_at > articles.fetched_at THEN EXCLUDED.author ELSE articles.author END,
    published_at = CASE WHEN EXCLUDED.fetched_at > articles.fetched_at THEN EXCLUDED.published_at ELSE articles.published_at END
RETURNING id, (xmax = 0) AS inserted`

	var result repository.UpsertResult
	err := repo.db.QueryRowContext(ctx, query,
		article.SourceID, article.CanonicalURL, article.Title, article.Dek, article.Author,
		article.PublisherName, article.PublisherHost, article.PublisherHomepage,
		article.PublishedAt, article.FetchedAt,
	).Scan(&result.ArticleID, &result.Inserted)
	if err != nil {
		return repository.UpsertResult{}, fmt.Errorf("UpsertByCanonicalURL: %w", err)
	}
	result.Updated = !result.Inserted
	return result, nil
}

func (repo *ArticleRepo) ExistsByCanonicalURLBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	result := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return result, nil
	}

	const query = `SELECT canonical_url FROM articles WHERE canonical_url = ANY($1)`
	rows, err := repo.db.QueryContext(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("ExistsByCanonicalURLBatch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("ExistsByCanonicalURLBatch: Scan: %w", err)
		}
		result[u] = true
	}
	return result, rows.Err()
}

func (repo *ArticleRepo) UpdateEmbedding(ctx context.Context, articleID int64, embedding []float32) error {
	const query = `UPDATE articles SET embedding = $1 WHERE id = $2`
	_, err := repo.db.ExecContext(ctx, query, pgvector.NewVector(embedding), articleID)
	if err != nil {
		return fmt.Errorf("UpdateEmbedding: %w", err)
	}
	return nil
}

func (repo *ArticleRepo) UpdateContent(ctx context.Context, articleID int64, content entity.Article) error {
	const query = `
UPDATE articles SET
    content_text       = $1,
    content_html       = $2,
    content_word_count = $3,
    content_status     = $4,
    content_fetched_at = $5
WHERE id = $6`
	_, err := repo.db.ExecContext(ctx, query,
		content.ContentText, content.ContentHTML, content.ContentWordCount,
		content.ContentStatus, content.ContentFetchedAt, articleID,
	)
	if err != nil {
		return fmt.Errorf("UpdateContent: %w", err)
	}
	return nil
}

func (repo *ArticleRepo) UpdateRewrite(ctx context.Context, articleID int64, article entity.Article) error {
	const query = `
UPDATE articles SET
    rewritten_title = $1,
    rewritten_at    = $2,
    rewrite_model   = $3,
    rewrite_notes   = $4
WHERE id = $5`
	_, err := repo.db.ExecContext(ctx, query,
		article.RewrittenTitle, article.RewrittenAt, article.RewriteModel, article.RewriteNotes, articleID,
	)
	if err != nil {
		return fmt.Errorf("UpdateRewrite: %w", err)
	}
	return nil
}

func (repo *ArticleRepo) ListNeedingPrefetch(ctx context.Context, limit int) ([]*entity.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles
WHERE content_status = ''
ORDER BY fetched_at ASC
LIMIT $1`
	return repo.queryArticles(ctx, query, limit)
}

func (repo *ArticleRepo) ListUnembedded(ctx context.Context, limit int) ([]*entity.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles
WHERE embedding IS NULL
ORDER BY fetched_at ASC
LIMIT $1`
	return repo.queryArticles(ctx, query, limit)
}

func (repo *ArticleRepo) ListRewriteCandidates(ctx context.Context, window time.Duration, limit int) ([]*entity.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles a
WHERE a.published_at IS NOT NULL
  AND a.published_at >= $1
  AND a.rewritten_title = ''
ORDER BY
    (EXISTS (SELECT 1 FROM cluster_scores cs
             JOIN article_clusters ac ON ac.cluster_id = cs.cluster_id
             WHERE ac.article_id = a.id AND cs.lead_article_id = a.id)) DESC,
    a.published_at DESC
LIMIT $2`
	cutoff := time.Now().Add(-window)
	rows, err := repo.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRewriteCandidates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanArticleRows(rows)
}

func (repo *ArticleRepo) ListStaleContent(ctx context.Context, statuses []entity.ContentStatus, window time.Duration, limit int) ([]*entity.Article, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, 0, len(statuses)+2)
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, string(status))
	}
	cutoff := time.Now().Add(-window)
	args = append(args, cutoff, limit)

	query := `SELECT ` + articleColumns + ` FROM articles
WHERE content_status IN (` + strings.Join(placeholders, ", ") + `)
  AND content_fetched_at >= $` + fmt.Sprintf("%d", len(statuses)+1) + `
ORDER BY content_fetched_at ASC
LIMIT $` + fmt.Sprintf("%d", len(statuses)+2)

	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListStaleContent: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanArticleRows(rows)
}

func (repo *ArticleRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM articles WHERE coalesce(published_at, fetched_at) < $1`
	res, err := repo.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("DeleteOlderThan: %w", err)
	}
	return res.RowsAffected()
}

func (repo *ArticleRepo) queryArticles(ctx context.Context, query string, limit int) ([]*entity.Article, error) {
	rows, err := repo.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("queryArticles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanArticleRows(rows)
}

func scanArticleRows(rows *sql.Rows) ([]*entity.Article, error) {
	articles := make([]*entity.Article, 0, 50)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanArticleRows: Scan: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
