package scheduler

import (
	"context"
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

// Tier caps and budgets (spec §4.9's cron table, §5's soft time budgets).
// Request-supplied limits are always clamped down to these; they are never
// relaxed by request input.
const (
	lightIngestCap   = 30
	lightPrefetchCap = 20
	lightScoreCap    = 30
	lightBreakingMaxQ = 5
	lightBreakingPerQ = 3
	lightBudget       = 60 * time.Second

	deltaDiscoverCap = 25
	deltaIngestCap   = 25
	deltaScoreCap    = 50
	deltaRewriteCap  = 40
	deltaBudget      = 120 * time.Second

	dailyDiscoverCap  = 60
	dailyIngestCap    = 150
	dailyPrefetchCap  = 50
	dailyScoreCap     = 200
	dailyRewriteCap   = 60
	dailyDiscoverMaxQ = 6
	dailyDiscoverPerQ = 4
	dailyBudget       = 300 * time.Second
)

// breakingWindowHours and dailyDiscoverWindowHours gate web-discovery
// invocation by hour-of-day (spec §4.9 table).
var breakingWindowHours = [2]int{9, 21}
var dailyDiscoverWindowHours = [2]int{0, 6}

// Scheduler drives the three cron tiers, each a fixed stage sequence with
// server-clamped caps (spec §4.9). It holds one instance of every pipeline
// stage's usecase service.
type Scheduler struct {
	Ingest     *ingest.Service
	Discover   *discover.Service
	Prefetch   *prefetch.Service
	Categorize *categorize.Service
	Cluster    *cluster.Service
	Score      *score.Service
	Rewrite    *rewrite.Service
	Articles   repository.ArticleRepository

	// BackfillWindow/BackfillBatch/RetentionDays come from
	// worker.WorkerConfig (BACKFILL_HOURS/BACKFILL_BATCH/RETENTION_DAYS);
	// the daily tier is the only one that runs backfill and retention.
	BackfillWindow time.Duration
	BackfillBatch  int
	RetentionDays  int

	// Now returns the current time; overridable in tests. Defaults to
	// time.Now via NewScheduler.
	Now func() time.Time
}

// NewScheduler wires a Scheduler from its constituent pipeline services.
func NewScheduler(
	ingestSvc *ingest.Service,
	discoverSvc *discover.Service,
	prefetchSvc *prefetch.Service,
	categorizeSvc *categorize.Service,
	clusterSvc *cluster.Service,
	scoreSvc *score.Service,
	rewriteSvc *rewrite.Service,
	articles repository.ArticleRepository,
	backfillWindow time.Duration,
	backfillBatch int,
	retentionDays int,
) *Scheduler {
	return &Scheduler{
		Ingest:         ingestSvc,
		Discover:       discoverSvc,
		Prefetch:       prefetchSvc,
		Categorize:     categorizeSvc,
		Cluster:        clusterSvc,
		Score:          scoreSvc,
		Rewrite:        rewriteSvc,
		Articles:       articles,
		BackfillWindow: backfillWindow,
		BackfillBatch:  backfillBatch,
		RetentionDays:  retentionDays,
		Now:            time.Now,
	}
}

// clamp caps requested against max, treating a non-positive request as
// "use the default" and always capping at max regardless of request input
// (spec §4.9, testable property / scenario S6).
func clamp(requested, max int) int {
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}

func inHourWindow(hour int, window [2]int) bool {
	return hour >= window[0] && hour <= window[1]
}

// withBudget derives a deadline-bound context for one stage invocation
// (spec §5's per-tier soft time budget).
func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, budget)
}

// RunLight executes the light tier: ingest -> prefetch -> score ->
// (conditionally) web-discover in breaking mode.
func (s *Scheduler) RunLight(ctx context.Context, req Request) map[string]StageResult {
	ctx, cancel := withBudget(ctx, lightBudget)
	defer cancel()

	results := make(map[string]StageResult)

	ingestRes, _ := ingestStage(s.Ingest).Run(ctx, Options{Limit: clamp(req.Limit, lightIngestCap)})
	results["ingest"] = ingestRes

	prefetchRes, _ := prefetchStage(s.Prefetch).Run(ctx, Options{Limit: clamp(req.Limit, lightPrefetchCap)})
	results["prefetch"] = prefetchRes

	scoreRes, _ := scoreStage(s.Articles, s.Categorize, s.Cluster, s.Score).Run(ctx, Options{Limit: clamp(req.Limit, lightScoreCap)})
	results["score"] = scoreRes

	if inHourWindow(s.Now().Hour(), breakingWindowHours) {
		discoverRes, _ := webDiscoverStage(s.Discover, breakingDiscoveryQueries).Run(ctx, Options{
			MaxQueries: lightBreakingMaxQ,
			PerQuery:   lightBreakingPerQ,
			Breaking:   true,
		})
		results["web_discover"] = discoverRes
	}

	return results
}

// RunDelta executes the delta tier: discover -> ingest -> score -> rewrite.
func (s *Scheduler) RunDelta(ctx context.Context, req Request) map[string]StageResult {
	ctx, cancel := withBudget(ctx, deltaBudget)
	defer cancel()

	results := make(map[string]StageResult)

	discoverRes, _ := discoverFeedsStage(s.Discover).Run(ctx, Options{Limit: clamp(req.Discover, deltaDiscoverCap)})
	results["discover"] = discoverRes

	ingestRes, _ := ingestStage(s.Ingest).Run(ctx, Options{Limit: clamp(req.Limit, deltaIngestCap)})
	results["ingest"] = ingestRes

	scoreRes, _ := scoreStage(s.Articles, s.Categorize, s.Cluster, s.Score).Run(ctx, Options{Limit: clamp(req.Limit, deltaScoreCap)})
	results["score"] = scoreRes

	rewriteRes, _ := rewriteStage(s.Rewrite).Run(ctx, Options{Limit: clamp(req.Rewrite, deltaRewriteCap)})
	results["rewrite"] = rewriteRes

	return results
}

// RunDaily executes the daily tier: discover -> ingest -> prefetch -> score
// -> rewrite -> backfill -> retention -> (conditionally) web-discover.
func (s *Scheduler) RunDaily(ctx context.Context, req Request) map[string]StageResult {
	ctx, cancel := withBudget(ctx, dailyBudget)
	defer cancel()

	results := make(map[string]StageResult)

	discoverRes, _ := discoverFeedsStage(s.Discover).Run(ctx, Options{Limit: clamp(req.Discover, dailyDiscoverCap)})
	results["discover"] = discoverRes

	ingestRes, _ := ingestStage(s.Ingest).Run(ctx, Options{Limit: clamp(req.Limit, dailyIngestCap)})
	results["ingest"] = ingestRes

	prefetchRes, _ := prefetchStage(s.Prefetch).Run(ctx, Options{Limit: clamp(req.Limit, dailyPrefetchCap)})
	results["prefetch"] = prefetchRes

	scoreRes, _ := scoreStage(s.Articles, s.Categorize, s.Cluster, s.Score).Run(ctx, Options{Limit: clamp(req.Limit, dailyScoreCap)})
	results["score"] = scoreRes

	rewriteRes, _ := rewriteStage(s.Rewrite).Run(ctx, Options{Limit: clamp(req.Rewrite, dailyRewriteCap)})
	results["rewrite"] = rewriteRes

	backfillRes, _ := backfillStage(s.Prefetch, s.BackfillWindow, s.BackfillBatch).Run(ctx, Options{})
	results["backfill"] = backfillRes

	retentionRes, _ := retentionStage(s.Articles, s.RetentionDays).Run(ctx, Options{})
	results["retention"] = retentionRes

	if inHourWindow(s.Now().Hour(), dailyDiscoverWindowHours) {
		discoverQueryRes, _ := webDiscoverStage(s.Discover, defaultDiscoveryQueries).Run(ctx, Options{
			MaxQueries: dailyDiscoverMaxQ,
			PerQuery:   dailyDiscoverPerQ,
		})
		results["web_discover"] = discoverQueryRes
	}

	return results
}

// Request carries the raw, unclamped parameters parsed from an HTTP
// request's query string (spec §6).
type Request struct {
	Limit    int
	Discover int
	Rewrite  int
}
