// Package ingest implements the Ingestor pipeline stage: pulling items out
// of each due rss:// or web:// source's feed and upserting them into the
// article table (spec.md §4.1).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/observability/metrics"
	"github.com/dwahbe/climate-river/internal/pkg/hostnorm"
	"github.com/dwahbe/climate-river/internal/repository"
)

const (
	// feedConcurrency bounds how many feeds are fetched in flight at once.
	feedConcurrency = 8

	// feedFetchTimeout bounds a single feed's fetch+parse round trip.
	feedFetchTimeout = 15 * time.Second

	// failureThreshold mirrors entity.Source.RecordFetchFailure's own
	// threshold; kept here only for the log message, the entity owns the
	// actual counting.
	failureThreshold = 3
)

// FeedFetcher fetches and parses a feed URL into items. Implemented by
// scraper.RSSFetcher.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]FeedItem, error)
}

// Stats reports the outcome of one Ingest run. Fields are updated with
// atomic ops from concurrent feed workers; read them only after Ingest
// returns.
type Stats struct {
	SourcesProcessed int64
	Fetched          int64
	Inserted         int64
	Updated          int64
	Skipped          int64
	Errors           int64
}

// Service implements the Ingestor.
type Service struct {
	Sources  repository.SourceRepository
	Articles repository.ArticleRepository
	Fetcher  FeedFetcher
}

// NewService constructs an Ingestor service.
func NewService(sources repository.SourceRepository, articles repository.ArticleRepository, fetcher FeedFetcher) *Service {
	return &Service{Sources: sources, Articles: articles, Fetcher: fetcher}
}

// Ingest fetches up to limit due sources (fairness order per
// SourceRepository.ListDueForFetch) and upserts their items, bounding
// concurrency to feedConcurrency feeds in flight and at most one
// outstanding fetch per normalized host (spec §4.1 politeness rule).
func (s *Service) Ingest(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	srcs, err := s.Sources.ListDueForFetch(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("list due sources: %w", err)
	}

	var hostLocks sync.Map // normalized host -> *sync.Mutex
	lockFor := func(host string) *sync.Mutex {
		mu := &sync.Mutex{}
		actual, _ := hostLocks.LoadOrStore(host, mu)
		return actual.(*sync.Mutex)
	}

	sem := make(chan struct{}, feedConcurrency)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, src := range srcs {
		src := src
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			mu := lockFor(sourceHost(src))
			mu.Lock()
			defer mu.Unlock()

			return s.ingestSource(egCtx, src, &stats)
		})
	}

	// Per-item and per-source errors never reach the group (see
	// ingestSource); the only error that can surface here is the caller's
	// context being cancelled, which aborts the whole run early.
	if err := eg.Wait(); err != nil {
		return stats, err
	}

	return stats, nil
}

// sourceHost returns the normalized host a source's politeness lock keys
// on: the web:// descriptor is already a bare host, the rss:// descriptor
// is a full feed URL and needs its host extracted first.
func sourceHost(src *entity.Source) string {
	descriptor := src.Descriptor()
	if u, err := url.Parse(descriptor); err == nil && u.Host != "" {
		return hostnorm.Host(u.Host)
	}
	return hostnorm.Host(descriptor)
}

// ingestSource fetches one source's feed and upserts its items. Fetch
// failures and per-item upsert failures are logged and counted, not
// returned, so one bad feed never aborts the run; only context
// cancellation propagates (spec §7's transient-I/O policy).
func (s *Service) ingestSource(ctx context.Context, src *entity.Source, stats *Stats) error {
	atomic.AddInt64(&stats.SourcesProcessed, 1)

	fetchCtx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
	defer cancel()

	items, err := s.Fetcher.Fetch(fetchCtx, src.FeedURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		atomic.AddInt64(&stats.Errors, 1)
		src.RecordFetchFailure(time.Now())
		if updErr := s.Sources.Update(context.WithoutCancel(ctx), src); updErr != nil {
			slog.Warn("failed to record source fetch failure",
				slog.Int64("source_id", src.ID), slog.Any("error", updErr))
		}
		metrics.RecordFeedCrawlError(src.ID, "fetch_failed")
		slog.Warn("feed fetch failed",
			slog.Int64("source_id", src.ID), slog.String("feed_url", src.FeedURL),
			slog.Int("consecutive_failures", src.ConsecutiveFailures), slog.Any("error", err))
		return nil
	}

	atomic.AddInt64(&stats.Fetched, int64(len(items)))

	if err := s.upsertItems(ctx, src, items, stats); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		atomic.AddInt64(&stats.Errors, 1)
		metrics.RecordFeedCrawlError(src.ID, "upsert_failed")
		slog.Warn("failed to upsert feed items",
			slog.Int64("source_id", src.ID), slog.Any("error", err))
	}

	src.RecordFetchSuccess(time.Now())
	if err := s.Sources.Update(context.WithoutCancel(ctx), src); err != nil {
		slog.Warn("failed to record source fetch success",
			slog.Int64("source_id", src.ID), slog.Any("error", err))
	}

	metrics.RecordArticlesFetched(src.Slug, src.ID, len(items))
	return nil
}

// upsertItems resolves each item's canonical URL, rejects aggregator hosts,
// and upserts the rest. A batch existence check avoids an N+1 lookup
// (mirrors the teacher's ExistsByURLBatch usage in fetch/service.go).
func (s *Service) upsertItems(ctx context.Context, src *entity.Source, items []FeedItem, stats *Stats) error {
	type resolved struct {
		item FeedItem
		url  string
	}

	resolvedItems := make([]resolved, 0, len(items))
	urls := make([]string, 0, len(items))
	for _, item := range items {
		// The aggregator check runs against the item's own raw host, not
		// the canonical form below: CanonicalURL already strips the
		// "news." label that identifies news.google.com/news.yahoo.com as
		// aggregators, so checking post-canonicalization would never match.
		parsed, err := url.Parse(item.URL)
		if err != nil {
			atomic.AddInt64(&stats.Skipped, 1)
			continue
		}
		if hostnorm.IsAggregatorHost(parsed.Host) {
			atomic.AddInt64(&stats.Skipped, 1)
			continue
		}

		canonical, err := hostnorm.CanonicalURL(item.URL)
		if err != nil {
			atomic.AddInt64(&stats.Skipped, 1)
			continue
		}
		resolvedItems = append(resolvedItems, resolved{item: item, url: canonical})
		urls = append(urls, canonical)
	}

	if len(resolvedItems) == 0 {
		return nil
	}

	existing, err := s.Articles.ExistsByCanonicalURLBatch(ctx, urls)
	if err != nil {
		return fmt.Errorf("batch check canonical urls: %w", err)
	}

	for _, r := range resolvedItems {
		wasKnown := existing[r.url]

		article := &entity.Article{
			SourceID:     src.ID,
			CanonicalURL: r.url,
			Title:        r.item.Title,
			Dek:          r.item.Dek,
			Author:       r.item.Author,
			FetchedAt:    time.Now(),
		}
		if !r.item.PublishedAt.IsZero() {
			published := r.item.PublishedAt
			article.PublishedAt = &published
		}

		if err := article.Validate(); err != nil {
			atomic.AddInt64(&stats.Skipped, 1)
			slog.Warn("skipping invalid feed item",
				slog.Int64("source_id", src.ID), slog.String("url", r.url), slog.Any("error", err))
			continue
		}

		result, err := s.Articles.UpsertByCanonicalURL(ctx, article)
		if err != nil {
			atomic.AddInt64(&stats.Errors, 1)
			slog.Warn("failed to upsert article",
				slog.Int64("source_id", src.ID), slog.String("url", r.url), slog.Any("error", err))
			continue
		}

		switch {
		case result.Inserted:
			atomic.AddInt64(&stats.Inserted, 1)
		case result.Updated:
			atomic.AddInt64(&stats.Updated, 1)
		default:
			if wasKnown {
				atomic.AddInt64(&stats.Skipped, 1)
			}
		}
	}

	return nil
}
