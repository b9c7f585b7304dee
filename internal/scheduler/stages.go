package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwahbe/climate-river/internal/repository"
	"github.com/dwahbe/climate-river/internal/usecase/categorize"
	"github.com/dwahbe/climate-river/internal/usecase/cluster"
	"github.com/dwahbe/climate-river/internal/usecase/discover"
	"github.com/dwahbe/climate-river/internal/usecase/ingest"
	"github.com/dwahbe/climate-river/internal/usecase/prefetch"
	"github.com/dwahbe/climate-river/internal/usecase/rewrite"
	"github.com/dwahbe/climate-river/internal/usecase/score"
)

// defaultDiscoveryQueries seed the daily/delta web-discovery tiers (spec
// §4.2's "given a set of queries"). breakingDiscoveryQueries is the
// smaller, time-sensitive list used by light's breaking-news mode.
var defaultDiscoveryQueries = []string{
	"climate change policy news",
	"renewable energy development",
	"extreme weather climate science",
	"climate finance and investment",
	"global emissions reduction targets",
	"climate adaptation and resilience",
}

var breakingDiscoveryQueries = []string{
	"climate news today",
	"extreme weather event today",
	"breaking climate policy",
	"breaking renewable energy news",
	"breaking climate disaster",
}

// ingestStage wraps usecase/ingest.Service.Ingest. The "limit" count is the
// already-clamped value the Scheduler passed in (spec §4.9 scenario S6:
// server-side clamping must be observable in the cron response).
func ingestStage(svc *ingest.Service) Stage {
	return newStage("ingest", func(ctx context.Context, opts Options) (map[string]int64, error) {
		stats, err := svc.Ingest(ctx, opts.Limit)
		counts := map[string]int64{
			"limit":              int64(opts.Limit),
			"sources_processed": stats.SourcesProcessed,
			"fetched":            stats.Fetched,
			"inserted":           stats.Inserted,
			"updated":            stats.Updated,
			"skipped":            stats.Skipped,
			"errors":             stats.Errors,
		}
		if err != nil {
			return counts, fmt.Errorf("ingest: %w", err)
		}
		return counts, nil
	})
}

// discoverFeedsStage wraps usecase/discover.Service.UpgradeFeeds (spec
// §4.2's feed-discovery sub-mode).
func discoverFeedsStage(svc *discover.Service) Stage {
	return newStage("discover", func(ctx context.Context, opts Options) (map[string]int64, error) {
		stats, err := svc.UpgradeFeeds(ctx, opts.Limit)
		counts := map[string]int64{
			"feeds_upgraded": stats.FeedsUpgraded,
			"errors":         stats.Errors,
		}
		if err != nil {
			return counts, fmt.Errorf("discover feeds: %w", err)
		}
		return counts, nil
	})
}

// webDiscoverStage wraps usecase/discover.Service.DiscoverByQuery (spec
// §4.2's web-discovery sub-mode). queries is chosen by the caller
// (breaking vs default list) before the stage runs.
func webDiscoverStage(svc *discover.Service, queries []string) Stage {
	return newStage("web_discover", func(ctx context.Context, opts Options) (map[string]int64, error) {
		stats, err := svc.DiscoverByQuery(ctx, queries, opts.MaxQueries, opts.PerQuery)
		counts := map[string]int64{
			"queries_run":       stats.QueriesRun,
			"sources_created":   stats.SourcesCreated,
			"articles_inserted": stats.ArticlesInserted,
			"errors":            stats.Errors,
		}
		if err != nil {
			return counts, fmt.Errorf("web discover: %w", err)
		}
		return counts, nil
	})
}

// prefetchStage wraps usecase/prefetch.Service.Prefetch.
func prefetchStage(svc *prefetch.Service) Stage {
	return newStage("prefetch", func(ctx context.Context, opts Options) (map[string]int64, error) {
		stats, err := svc.Prefetch(ctx, opts.Limit)
		counts := map[string]int64{
			"processed": stats.Processed,
			"success":   stats.Success,
			"paywall":   stats.Paywall,
			"not_found": stats.NotFound,
			"timeout":   stats.Timeout,
			"blocked":   stats.Blocked,
			"errors":    stats.Errors,
		}
		if err != nil {
			return counts, fmt.Errorf("prefetch: %w", err)
		}
		return counts, nil
	})
}

// rewriteStage wraps usecase/rewrite.Service.Rewrite.
func rewriteStage(svc *rewrite.Service) Stage {
	return newStage("rewrite", func(ctx context.Context, opts Options) (map[string]int64, error) {
		stats, err := svc.Rewrite(ctx, opts.Limit)
		counts := map[string]int64{
			"processed": stats.Processed,
			"updated":   stats.Updated,
			"skipped":   stats.Skipped,
			"errors":    stats.Errors,
		}
		if err != nil {
			return counts, fmt.Errorf("rewrite: %w", err)
		}
		return counts, nil
	})
}

// scoreStage bundles categorize, embed/cluster, and score into the single
// "score" entry of the cron table. §5's ordering guarantee ("ingest before
// embed before cluster before score") only names embed/cluster/score
// explicitly; categorizing title+dek needs nothing prefetch doesn't
// already provide, and article_repository.ListUnembedded is shared by
// "both Clusterer and Categorizer's semantic phase" (see its doc comment),
// so this stage runs the Categorizer over the same not-yet-embedded batch
// immediately before handing it to the Clusterer.
func scoreStage(articles repository.ArticleRepository, cat *categorize.Service, clu *cluster.Service, sco *score.Service) Stage {
	return newStage("score", func(ctx context.Context, opts Options) (map[string]int64, error) {
		counts := make(map[string]int64)

		pending, err := articles.ListUnembedded(ctx, opts.Limit)
		if err != nil {
			return counts, fmt.Errorf("list pending articles: %w", err)
		}
		var categorizeErrors int64
		for _, article := range pending {
			if err := cat.Categorize(ctx, article.ID, article.Title, article.Dek, article.ContentText); err != nil {
				categorizeErrors++
				slog.Warn("categorize failed", slog.Int64("article_id", article.ID), slog.Any("error", err))
			}
		}
		counts["categorized"] = int64(len(pending)) - categorizeErrors
		counts["categorize_errors"] = categorizeErrors

		embedStats, err := clu.EmbedPending(ctx, opts.Limit)
		counts["embedded"] = embedStats.Embedded
		counts["embed_errors"] = embedStats.EmbedErrors
		counts["assigned"] = embedStats.Assigned
		counts["singletons_made"] = embedStats.SingletonsMade
		counts["assign_errors"] = embedStats.AssignErrors
		if err != nil {
			return counts, fmt.Errorf("embed pending: %w", err)
		}

		maintStats, err := clu.Maintain(ctx)
		counts["retroactive_joins"] = maintStats.RetroactiveJoins
		counts["merges"] = maintStats.Merges
		counts["orphans_deleted"] = maintStats.OrphansDeleted
		counts["maintenance_errors"] = maintStats.Errors
		if err != nil {
			return counts, fmt.Errorf("cluster maintenance: %w", err)
		}

		scoreStats, err := sco.Score(ctx)
		counts["scored"] = scoreStats.Scored
		counts["score_errors"] = scoreStats.Errors
		if err != nil {
			return counts, fmt.Errorf("score: %w", err)
		}

		return counts, nil
	})
}

// backfillStage wraps usecase/prefetch.Service.Backfill. window and limit
// come from the daily tier's BACKFILL_HOURS/BACKFILL_BATCH config, not from
// Options, since a backfill pass isn't driven by the /cron request body.
func backfillStage(svc *prefetch.Service, window time.Duration, limit int) Stage {
	return newStage("backfill", func(ctx context.Context, opts Options) (map[string]int64, error) {
		stats, err := svc.Backfill(ctx, window, limit)
		counts := map[string]int64{
			"processed": stats.Processed,
			"success":   stats.Success,
			"paywall":   stats.Paywall,
			"not_found": stats.NotFound,
			"timeout":   stats.Timeout,
			"blocked":   stats.Blocked,
			"errors":    stats.Errors,
		}
		if err != nil {
			return counts, fmt.Errorf("backfill: %w", err)
		}
		return counts, nil
	})
}

// retentionStage wraps repository.ArticleRepository.DeleteOlderThan (spec
// §9's retention decision). retentionDays comes from the daily tier's
// RETENTION_DAYS config.
func retentionStage(articles repository.ArticleRepository, retentionDays int) Stage {
	return newStage("retention", func(ctx context.Context, opts Options) (map[string]int64, error) {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		deleted, err := articles.DeleteOlderThan(ctx, cutoff)
		counts := map[string]int64{"deleted": deleted}
		if err != nil {
			return counts, fmt.Errorf("retention: %w", err)
		}
		return counts, nil
	})
}
