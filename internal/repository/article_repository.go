package repository

import (
	"context"
	"time"

	"github.com/dwahbe/climate-river/internal/domain/entity"
)

// UpsertResult reports whether an upsert inserted a new row or matched an
// existing canonical_url and possibly updated it.
type UpsertResult struct {
	ArticleID int64
	Inserted  bool
	Updated   bool
}

// ArticleRepository persists Article rows.
type ArticleRepository interface {
	Get(ctx context.Context, id int64) (*entity.Article, error)
	GetByCanonicalURL(ctx context.Context, canonicalURL string) (*entity.Article, error)

	// UpsertByCanonicalURL inserts a new article or, if canonical_url
	// already exists, overwrites only non-identifying fields (title, dek,
	// author, published_at) when the incoming record is newer than the
	// stored fetched_at (spec §4.1 step 2).
	UpsertByCanonicalURL(ctx context.Context, article *entity.Article) (UpsertResult, error)

	// ExistsByCanonicalURLBatch checks many canonical URLs at once to
	// avoid N+1 lookups during a feed's item loop.
	ExistsByCanonicalURLBatch(ctx context.Context, urls []string) (map[string]bool, error)

	UpdateEmbedding(ctx context.Context, articleID int64, embedding []float32) error
	UpdateContent(ctx context.Context, articleID int64, content entity.Article) error
	UpdateRewrite(ctx context.Context, articleID int64, article entity.Article) error

	// ListNeedingPrefetch returns up to limit articles with no
	// content_status yet, oldest fetched_at first.
	ListNeedingPrefetch(ctx context.Context, limit int) ([]*entity.Article, error)

	// ListUnembedded returns up to limit articles with no embedding,
	// used by both Clusterer and Categorizer's semantic phase.
	ListUnembedded(ctx context.Context, limit int) ([]*entity.Article, error)

	// ListRewriteCandidates returns up to limit articles published within
	// the window that have no rewritten_title, cluster leads first
	// (spec §4.8).
	ListRewriteCandidates(ctx context.Context, window time.Duration, limit int) ([]*entity.Article, error)

	// ListStaleContent returns up to limit articles whose content_status
	// is one of the given non-terminal statuses (timeout, blocked, error)
	// and whose content_fetched_at falls within the last window — the
	// daily tier's backfill pass retries these (BACKFILL_HOURS/
	// BACKFILL_BATCH), since a prefetch failure may be transient.
	ListStaleContent(ctx context.Context, statuses []entity.ContentStatus, window time.Duration, limit int) ([]*entity.Article, error)

	// DeleteOlderThan removes articles whose coalesce(published_at,
	// fetched_at) is older than the cutoff (spec §9 retention decision),
	// returning the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
