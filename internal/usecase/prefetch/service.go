// Package prefetch implements the Content Prefetcher pipeline stage
// (spec.md §4.3): fetching and classifying each article's full body via a
// readability-style extractor.
package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/infra/fetcher"
	"github.com/dwahbe/climate-river/internal/observability/metrics"
	"github.com/dwahbe/climate-river/internal/repository"
)

// defaultConcurrency is the spec's default prefetch semaphore width.
const defaultConcurrency = 3

// ContentFetcher extracts readable content from an article URL,
// classifying the outcome into an entity.ContentStatus. Implemented by
// infra/fetcher.ReadabilityFetcher.
type ContentFetcher interface {
	FetchContent(ctx context.Context, url string) (fetcher.ContentResult, error)
}

// Stats reports the outcome of a Prefetch run.
type Stats struct {
	Processed int64
	Success   int64
	Paywall   int64
	NotFound  int64
	Timeout   int64
	Blocked   int64
	Errors    int64
}

// Service implements the Content Prefetcher.
type Service struct {
	Articles    repository.ArticleRepository
	Fetcher     ContentFetcher
	Concurrency int
}

// NewService constructs a Prefetcher service. concurrency <= 0 uses the
// spec default of 3.
func NewService(articles repository.ArticleRepository, fetcher ContentFetcher, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{Articles: articles, Fetcher: fetcher, Concurrency: concurrency}
}

// Prefetch fetches content for up to limit articles with no content_status
// yet (repository.ArticleRepository.ListNeedingPrefetch), bounding
// concurrency to s.Concurrency. Per-article failures never abort the run;
// rescheduling a failed article is the Scheduler's job (spec §4.3).
func (s *Service) Prefetch(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	articles, err := s.Articles.ListNeedingPrefetch(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("list articles needing prefetch: %w", err)
	}

	sem := make(chan struct{}, s.Concurrency)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, article := range articles {
		article := article
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return s.prefetchOne(egCtx, article, &stats)
		})
	}

	if err := eg.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// staleStatuses are the non-terminal content_status outcomes worth
// retrying: a timeout, block, or transient error may clear up on a
// later attempt, unlike paywall or not_found which won't.
var staleStatuses = []entity.ContentStatus{
	entity.ContentStatusTimeout,
	entity.ContentStatusBlocked,
	entity.ContentStatusError,
}

// Backfill retries content prefetch for up to limit articles whose last
// attempt, within window, ended in a non-terminal failure status
// (BACKFILL_HOURS/BACKFILL_BATCH, spec §9 backfill decision). It shares
// prefetchOne with Prefetch, so a retried article's outcome is recorded
// the same way a first attempt's would be.
func (s *Service) Backfill(ctx context.Context, window time.Duration, limit int) (Stats, error) {
	var stats Stats

	articles, err := s.Articles.ListStaleContent(ctx, staleStatuses, window, limit)
	if err != nil {
		return stats, fmt.Errorf("list stale content: %w", err)
	}

	sem := make(chan struct{}, s.Concurrency)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, article := range articles {
		article := article
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return s.prefetchOne(egCtx, article, &stats)
		})
	}

	if err := eg.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Service) prefetchOne(ctx context.Context, article *entity.Article, stats *Stats) error {
	atomic.AddInt64(&stats.Processed, 1)
	start := time.Now()

	result, err := s.Fetcher.FetchContent(ctx, article.CanonicalURL)
	if err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		metrics.RecordContentFetchFailed(time.Since(start))
		slog.Warn("content prefetch failed",
			slog.Int64("article_id", article.ID), slog.String("url", article.CanonicalURL), slog.Any("error", err))
		return nil
	}

	switch result.Status {
	case entity.ContentStatusSuccess:
		atomic.AddInt64(&stats.Success, 1)
		metrics.RecordContentFetchSuccess(time.Since(start), len(result.Text))
	case entity.ContentStatusPaywall:
		atomic.AddInt64(&stats.Paywall, 1)
	case entity.ContentStatusNotFound:
		atomic.AddInt64(&stats.NotFound, 1)
	case entity.ContentStatusTimeout:
		atomic.AddInt64(&stats.Timeout, 1)
	case entity.ContentStatusBlocked:
		atomic.AddInt64(&stats.Blocked, 1)
	default:
		atomic.AddInt64(&stats.Errors, 1)
	}

	update := entity.Article{
		ContentText:      result.Text,
		ContentHTML:      result.HTML,
		ContentStatus:    result.Status,
		ContentFetchedAt: &result.FetchedAt,
	}
	if result.WordCount > 0 {
		wc := result.WordCount
		update.ContentWordCount = &wc
	}

	if err := s.Articles.UpdateContent(ctx, article.ID, update); err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		slog.Warn("failed to persist prefetched content",
			slog.Int64("article_id", article.ID), slog.Any("error", err))
	}

	return nil
}
