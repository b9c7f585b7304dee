package repository

import (
	"context"

	"github.com/dwahbe/climate-river/internal/domain/entity"
)

// CategoryRepository reads the static category set and writes the
// per-article junction table.
type CategoryRepository interface {
	List(ctx context.Context) ([]*entity.Category, error)

	// ReplaceForArticle deletes existing article_categories rows for
	// articleID and inserts rows, exactly as Categorizer's persist step
	// requires (spec §4.4 step 5). At most one row may have IsPrimary set.
	ReplaceForArticle(ctx context.Context, articleID int64, rows []*entity.ArticleCategory) error
}
