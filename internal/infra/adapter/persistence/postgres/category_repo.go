package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/repository"
)

// CategoryRepo implements repository.CategoryRepository over PostgreSQL.
type CategoryRepo struct{ db *sql.DB }

// NewCategoryRepo creates a new PostgreSQL-backed CategoryRepository.
func NewCategoryRepo(db *sql.DB) repository.CategoryRepository {
	return &CategoryRepo{db: db}
}

func (repo *CategoryRepo) List(ctx context.Context) ([]*entity.Category, error) {
	const query = `SELECT slug, name, description, color, keywords FROM categories ORDER BY slug ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	categories := make([]*entity.Category, 0, 8)
	for rows.Next() {
		var c entity.Category
		var keywords pgtype.Array[string]
		if err := rows.Scan(&c.Slug, &c.Name, &c.Description, &c.Color, &keywords); err != nil {
			return nil, fmt.Errorf("List: Scan: %w", err)
		}
		c.Keywords = keywords.Elements
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// ReplaceForArticle deletes and reinserts an article's category rows inside
// one transaction, so a reader never sees a partially replaced set.
func (repo *CategoryRepo) ReplaceForArticle(ctx context.Context, articleID int64, rows []*entity.ArticleCategory) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceForArticle: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_categories WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("ReplaceForArticle: delete: %w", err)
	}

	const insert = `INSERT INTO article_categories (article_id, category_slug, confidence, is_primary) VALUES ($1, $2, $3, $4)`
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, insert, articleID, row.CategorySlug, row.Confidence, row.IsPrimary); err != nil {
			return fmt.Errorf("ReplaceForArticle: insert %s: %w", row.CategorySlug, err)
		}
	}
	return tx.Commit()
}
