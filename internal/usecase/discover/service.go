// Package discover implements the Discoverer's two sub-modes (spec.md
// §4.2): upgrading web:// sources to a working feed descriptor, and
// web-discovery, which asks a chat-completion service for candidate URLs
// and turns new hosts into sources.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/infra/chat"
	"github.com/dwahbe/climate-river/internal/pkg/hostnorm"
	"github.com/dwahbe/climate-river/internal/repository"
)

const (
	// feedProbeConcurrency bounds how many web:// sources are probed for a
	// feed at once; feed discovery is cheap (a handful of HTTP GETs per
	// host) so this can run wider than ingest's feed concurrency.
	feedProbeConcurrency = 8

	// webDiscoverySourceWeight is the starting weight given to a source
	// created from a web-discovery hit (spec §4.2).
	webDiscoverySourceWeight = 4

	discoveryQueryTimeout = 30 * time.Second
)

// FeedProber probes a homepage for a working feed URL. Implemented by
// infra/discover.FeedProbe.
type FeedProber interface {
	Probe(ctx context.Context, homepageURL string) (feedURL string, ok bool, err error)
}

// webDiscoveryResult is the shape the chat completion service is asked to
// return for a web-discovery query: a flat list of candidate article URLs
// with best-effort metadata.
type webDiscoveryResult struct {
	Articles []webDiscoveryArticle `json:"articles"`
}

type webDiscoveryArticle struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	PublishedAt string `json:"published_at"` // RFC3339, best-effort
}

// Stats reports the outcome of a Discoverer run.
type Stats struct {
	FeedsUpgraded    int64
	QueriesRun       int64
	SourcesCreated   int64
	ArticlesInserted int64
	Errors           int64
}

// Service implements both Discoverer sub-modes.
type Service struct {
	Sources  repository.SourceRepository
	Articles repository.ArticleRepository
	Prober   FeedProber
	Chat     chat.Completer
}

// NewService constructs a Discoverer service.
func NewService(sources repository.SourceRepository, articles repository.ArticleRepository, prober FeedProber, completer chat.Completer) *Service {
	return &Service{Sources: sources, Articles: articles, Prober: prober, Chat: completer}
}

// UpgradeFeeds probes up to limit web:// sources for a working feed URL
// and upgrades their descriptor in place on success (spec §4.2 feed
// discovery sub-mode).
func (s *Service) UpgradeFeeds(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	all, err := s.Sources.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list sources: %w", err)
	}

	candidates := make([]*entity.Source, 0, limit)
	for _, src := range all {
		if src.Active && src.Kind() == "web" {
			candidates = append(candidates, src)
			if len(candidates) >= limit {
				break
			}
		}
	}

	sem := make(chan struct{}, feedProbeConcurrency)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, src := range candidates {
		src := src
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			homepage := src.Homepage
			if homepage == "" {
				homepage = "https://" + src.Descriptor()
			}

			feedURL, ok, err := s.Prober.Probe(egCtx, homepage)
			if err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				slog.Warn("feed discovery probe failed",
					slog.Int64("source_id", src.ID), slog.String("homepage", homepage), slog.Any("error", err))
				return nil
			}
			if !ok {
				return nil
			}

			src.FeedURL = "rss://" + feedURL
			if err := s.Sources.Update(egCtx, src); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				slog.Warn("failed to persist upgraded feed descriptor",
					slog.Int64("source_id", src.ID), slog.Any("error", err))
				return nil
			}

			atomic.AddInt64(&stats.FeedsUpgraded, 1)
			slog.Info("upgraded web source to feed source",
				slog.Int64("source_id", src.ID), slog.String("feed_url", feedURL))
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// DiscoverByQuery runs the web-discovery sub-mode: at most maxQueries
// queries, each asking for up to perQuery candidate URLs, new hosts become
// web:// sources, and their articles are inserted with best-effort
// metadata (spec §4.2 web discovery). Cost control is the caller's
// responsibility (the Scheduler gates this by hour window / breaking mode).
func (s *Service) DiscoverByQuery(ctx context.Context, queries []string, maxQueries, perQuery int) (Stats, error) {
	var stats Stats

	if maxQueries > 0 && len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}

	for _, query := range queries {
		atomic.AddInt64(&stats.QueriesRun, 1)
		if err := s.runQuery(ctx, query, perQuery, &stats); err != nil {
			atomic.AddInt64(&stats.Errors, 1)
			slog.Warn("web discovery query failed", slog.String("query", query), slog.Any("error", err))
		}
	}

	return stats, nil
}

func (s *Service) runQuery(ctx context.Context, query string, perQuery int, stats *Stats) error {
	ctx, cancel := context.WithTimeout(ctx, discoveryQueryTimeout)
	defer cancel()

	raw, err := s.Chat.Complete(ctx, webDiscoverySystemPrompt, buildDiscoveryPrompt(query, perQuery))
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}

	result, err := parseDiscoveryResult(raw)
	if err != nil {
		return fmt.Errorf("parse discovery result: %w", err)
	}

	if perQuery > 0 && len(result.Articles) > perQuery {
		result.Articles = result.Articles[:perQuery]
	}

	for _, a := range result.Articles {
		if err := s.ingestDiscoveredArticle(ctx, query, a, stats); err != nil {
			slog.Warn("failed to ingest discovered article",
				slog.String("query", query), slog.String("url", a.URL), slog.Any("error", err))
		}
	}
	return nil
}

func (s *Service) ingestDiscoveredArticle(ctx context.Context, query string, a webDiscoveryArticle, stats *Stats) error {
	parsed, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("parse discovered url: %w", err)
	}
	if hostnorm.IsAggregatorHost(parsed.Host) {
		return nil
	}

	canonical, err := hostnorm.CanonicalURL(a.URL)
	if err != nil {
		return fmt.Errorf("canonicalize url: %w", err)
	}
	host := hostnorm.Host(parsed.Host)

	src, err := s.sourceForHost(ctx, host, stats)
	if err != nil {
		return err
	}

	article := &entity.Article{
		SourceID:     src.ID,
		CanonicalURL: canonical,
		Title:        a.Title,
		FetchedAt:    time.Now(),
	}
	if a.Title == "" {
		article.Title = canonical
	}
	if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
		article.PublishedAt = &t
	}
	if err := article.Validate(); err != nil {
		return fmt.Errorf("validate discovered article: %w", err)
	}

	result, err := s.Articles.UpsertByCanonicalURL(ctx, article)
	if err != nil {
		return fmt.Errorf("upsert discovered article: %w", err)
	}
	if result.Inserted {
		atomic.AddInt64(&stats.ArticlesInserted, 1)
	}
	return nil
}

// sourceForHost returns the existing web:// source for host, creating one
// with weight 4 on first sight (spec §4.2).
func (s *Service) sourceForHost(ctx context.Context, host string, stats *Stats) (*entity.Source, error) {
	slug := slugifyHost(host)

	existing, err := s.Sources.GetBySlug(ctx, slug)
	if err == nil {
		return existing, nil
	}
	if err != entity.ErrNotFound {
		return nil, fmt.Errorf("lookup source by slug: %w", err)
	}

	src := &entity.Source{
		Slug:     slug,
		Name:     host,
		FeedURL:  "web://" + host,
		Homepage: "https://" + host,
		Weight:   webDiscoverySourceWeight,
		Active:   true,
	}
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("validate discovered source: %w", err)
	}
	if err := s.Sources.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("create discovered source: %w", err)
	}
	atomic.AddInt64(&stats.SourcesCreated, 1)
	slog.Info("created source from web discovery", slog.String("host", host), slog.Int64("source_id", src.ID))
	return src, nil
}

func parseDiscoveryResult(raw string) (webDiscoveryResult, error) {
	var result webDiscoveryResult
	trimmed := strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a fenced code block despite being
	// asked not to; strip it before unmarshaling.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return result, err
	}
	return result, nil
}

// slugifyHost turns a normalized host into a URL-safe slug.
func slugifyHost(host string) string {
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-':
			b.WriteByte('-')
		}
	}
	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

const webDiscoverySystemPrompt = `You find recent climate and environmental news articles matching a search query.
Respond with only a JSON object of the form {"articles":[{"url":"...","title":"...","published_at":"RFC3339 or empty"}]}.
Only include direct article URLs from news publishers, never aggregators or search result pages.`

func buildDiscoveryPrompt(query string, perQuery int) string {
	return fmt.Sprintf("Find up to %d recent climate news articles for the query: %q", perQuery, query)
}
