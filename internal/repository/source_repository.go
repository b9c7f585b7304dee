package repository

import (
	"context"

	"github.com/dwahbe/climate-river/internal/domain/entity"
)

// SourceRepository persists Source rows.
type SourceRepository interface {
	Get(ctx context.Context, id int64) (*entity.Source, error)
	GetBySlug(ctx context.Context, slug string) (*entity.Source, error)
	List(ctx context.Context) ([]*entity.Source, error)

	// ListDueForFetch returns up to limit active sources ordered by fairness:
	// oldest last_fetched_at first, then highest weight (spec §4.1).
	ListDueForFetch(ctx context.Context, limit int) ([]*entity.Source, error)

	Create(ctx context.Context, source *entity.Source) error
	Update(ctx context.Context, source *entity.Source) error

	// ExistsByHost reports whether an active web:// or rss:// source
	// already targets the given normalized host, so Discoverer doesn't
	// create duplicate sources for the same outlet.
	ExistsByHost(ctx context.Context, normalizedHost string) (bool, error)
}
