package prefetch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/infra/fetcher"
	"github.com/dwahbe/climate-river/internal/repository"
	"github.com/dwahbe/climate-river/internal/usecase/prefetch"
)

// fakeArticleRepo is a very-light repository.ArticleRepository stub;
// only the methods Prefetch/Backfill actually call are exercised.
type fakeArticleRepo struct {
	mu sync.Mutex

	needingPrefetch []*entity.Article
	staleContent    []*entity.Article

	updated map[int64]entity.Article

	listErr   error
	updateErr error

	lastStatuses []entity.ContentStatus
	lastWindow   time.Duration
}

func newFakeArticleRepo() *fakeArticleRepo {
	return &fakeArticleRepo{updated: map[int64]entity.Article{}}
}

var _ repository.ArticleRepository = (*fakeArticleRepo)(nil)

func (f *fakeArticleRepo) Get(context.Context, int64) (*entity.Article, error) { return nil, nil }
func (f *fakeArticleRepo) GetByCanonicalURL(context.Context, string) (*entity.Article, error) {
	return nil, nil
}
func (f *fakeArticleRepo) UpsertByCanonicalURL(context.Context, *entity.Article) (repository.UpsertResult, error) {
	return repository.UpsertResult{}, nil
}
func (f *fakeArticleRepo) ExistsByCanonicalURLBatch(context.Context, []string) (map[string]bool, error) {
	return nil, nil
}
func (f *fakeArticleRepo) UpdateEmbedding(context.Context, int64, []float32) error { return nil }

func (f *fakeArticleRepo) UpdateContent(_ context.Context, articleID int64, content entity.Article) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated[articleID] = content
	return nil
}

func (f *fakeArticleRepo) UpdateRewrite(context.Context, int64, entity.Article) error { return nil }

func (f *fakeArticleRepo) ListNeedingPrefetch(context.Context, int) ([]*entity.Article, error) {
	return f.needingPrefetch, f.listErr
}

func (f *fakeArticleRepo) ListUnembedded(context.Context, int) ([]*entity.Article, error) {
	return nil, nil
}

func (f *fakeArticleRepo) ListRewriteCandidates(context.Context, time.Duration, int) ([]*entity.Article, error) {
	return nil, nil
}

func (f *fakeArticleRepo) ListStaleContent(_ context.Context, statuses []entity.ContentStatus, window time.Duration, _ int) ([]*entity.Article, error) {
	f.lastStatuses = statuses
	f.lastWindow = window
	return f.staleContent, f.listErr
}

func (f *fakeArticleRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeFetcher struct {
	results map[string]fetcher.ContentResult
	errs    map[string]error
	calls   int32
	mu      sync.Mutex
}

func (f *fakeFetcher) FetchContent(_ context.Context, url string) (fetcher.ContentResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return fetcher.ContentResult{}, err
	}
	return f.results[url], nil
}

func TestService_Prefetch_classifiesOutcomes(t *testing.T) {
	repo := newFakeArticleRepo()
	repo.needingPrefetch = []*entity.Article{
		{ID: 1, CanonicalURL: "https://a.example/1"},
		{ID: 2, CanonicalURL: "https://a.example/2"},
		{ID: 3, CanonicalURL: "https://a.example/3"},
	}

	f := &fakeFetcher{
		results: map[string]fetcher.ContentResult{
			"https://a.example/1": {Status: entity.ContentStatusSuccess, Text: "body", WordCount: 2, FetchedAt: time.Now()},
			"https://a.example/2": {Status: entity.ContentStatusPaywall, FetchedAt: time.Now()},
		},
		errs: map[string]error{
			"https://a.example/3": errors.New("dial tcp: timeout"),
		},
	}

	svc := prefetch.NewService(repo, f, 2)
	stats, err := svc.Prefetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("Prefetch() err = %v", err)
	}

	if stats.Processed != 3 {
		t.Errorf("Processed = %d, want 3", stats.Processed)
	}
	if stats.Success != 1 || stats.Paywall != 1 || stats.Errors != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(repo.updated) != 2 {
		t.Errorf("UpdateContent called %d times, want 2 (fetch error skips the update)", len(repo.updated))
	}
}

func TestService_Prefetch_listError(t *testing.T) {
	repo := newFakeArticleRepo()
	repo.listErr = errors.New("db unavailable")

	svc := prefetch.NewService(repo, &fakeFetcher{}, 3)
	_, err := svc.Prefetch(context.Background(), 10)
	if err == nil {
		t.Fatal("want error, got nil")
	}
}

func TestService_Backfill_usesStaleStatusesAndWindow(t *testing.T) {
	repo := newFakeArticleRepo()
	repo.staleContent = []*entity.Article{
		{ID: 5, CanonicalURL: "https://b.example/5"},
	}

	f := &fakeFetcher{
		results: map[string]fetcher.ContentResult{
			"https://b.example/5": {Status: entity.ContentStatusSuccess, Text: "retried body", FetchedAt: time.Now()},
		},
	}

	svc := prefetch.NewService(repo, f, 3)
	window := 48 * time.Hour

	stats, err := svc.Backfill(context.Background(), window, 20)
	if err != nil {
		t.Fatalf("Backfill() err = %v", err)
	}
	if stats.Processed != 1 || stats.Success != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if repo.lastWindow != window {
		t.Errorf("window passed to ListStaleContent = %v, want %v", repo.lastWindow, window)
	}

	wantStatuses := []entity.ContentStatus{
		entity.ContentStatusTimeout, entity.ContentStatusBlocked, entity.ContentStatusError,
	}
	if len(repo.lastStatuses) != len(wantStatuses) {
		t.Fatalf("statuses passed = %v, want %v", repo.lastStatuses, wantStatuses)
	}
	for i, s := range wantStatuses {
		if repo.lastStatuses[i] != s {
			t.Errorf("statuses[%d] = %v, want %v", i, repo.lastStatuses[i], s)
		}
	}

	if _, ok := repo.updated[5]; !ok {
		t.Error("want UpdateContent called for retried article 5")
	}
}

func TestService_Backfill_listError(t *testing.T) {
	repo := newFakeArticleRepo()
	repo.listErr = errors.New("query failed")

	svc := prefetch.NewService(repo, &fakeFetcher{}, 3)
	_, err := svc.Backfill(context.Background(), time.Hour, 10)
	if err == nil {
		t.Fatal("want error, got nil")
	}
}

func TestNewService_defaultsConcurrency(t *testing.T) {
	svc := prefetch.NewService(newFakeArticleRepo(), &fakeFetcher{}, 0)
	if svc.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want default 3", svc.Concurrency)
	}
}
