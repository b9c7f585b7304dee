package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/infra/fetcher"
	"github.com/dwahbe/climate-river/internal/repository"
	"github.com/dwahbe/climate-river/internal/usecase/prefetch"
)

// fakeArticleRepo is a minimal repository.ArticleRepository stub for
// exercising backfillStage/retentionStage without a database.
type fakeArticleRepo struct {
	staleContent []*entity.Article
	listErr      error

	deleteOlderThanCalls int
	deleteOlderThanCount int64
	deleteOlderThanErr   error
	lastCutoff           time.Time
}

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
func (f *fakeArticleRepo) UpdateContent(context.Context, int64, entity.Article) error {
	return nil
}
func (f *fakeArticleRepo) UpdateRewrite(context.Context, int64, entity.Article) error { return nil }
func (f *fakeArticleRepo) ListNeedingPrefetch(context.Context, int) ([]*entity.Article, error) {
	return nil, nil
}
func (f *fakeArticleRepo) ListUnembedded(context.Context, int) ([]*entity.Article, error) {
	return nil, nil
}
func (f *fakeArticleRepo) ListRewriteCandidates(context.Context, time.Duration, int) ([]*entity.Article, error) {
	return nil, nil
}
func (f *fakeArticleRepo) ListStaleContent(context.Context, []entity.ContentStatus, time.Duration, int) ([]*entity.Article, error) {
	return f.staleContent, f.listErr
}
func (f *fakeArticleRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleteOlderThanCalls++
	f.lastCutoff = cutoff
	return f.deleteOlderThanCount, f.deleteOlderThanErr
}

var _ repository.ArticleRepository = (*fakeArticleRepo)(nil)

type fakeContentFetcher struct {
	result fetcher.ContentResult
	err    error
}

func (f *fakeContentFetcher) FetchContent(context.Context, string) (fetcher.ContentResult, error) {
	return f.result, f.err
}

func TestBackfillStage_reportsCounts(t *testing.T) {
	repo := &fakeArticleRepo{
		staleContent: []*entity.Article{{ID: 1, CanonicalURL: "https://a.example/1"}},
	}
	svc := prefetch.NewService(repo, &fakeContentFetcher{
		result: fetcher.ContentResult{Status: entity.ContentStatusSuccess, FetchedAt: time.Now()},
	}, 2)

	stage := backfillStage(svc, 48*time.Hour, 10)
	result, err := stage.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if result.Counts["processed"] != 1 || result.Counts["success"] != 1 {
		t.Errorf("counts = %+v, want processed=1 success=1", result.Counts)
	}
}

func TestBackfillStage_listErrorSurfacesAsStageError(t *testing.T) {
	repo := &fakeArticleRepo{listErr: errors.New("query failed")}
	svc := prefetch.NewService(repo, &fakeContentFetcher{}, 2)

	stage := backfillStage(svc, time.Hour, 10)
	result, err := stage.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err = %v, want nil", err)
	}
	if result.OK {
		t.Error("want OK=false when ListStaleContent fails")
	}
}

func TestRetentionStage_deletesUsingComputedCutoff(t *testing.T) {
	repo := &fakeArticleRepo{deleteOlderThanCount: 7}

	stage := retentionStage(repo, 30)
	result, err := stage.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if result.Counts["deleted"] != 7 {
		t.Errorf("Counts[deleted] = %d, want 7", result.Counts["deleted"])
	}
	if repo.deleteOlderThanCalls != 1 {
		t.Fatalf("DeleteOlderThan called %d times, want 1", repo.deleteOlderThanCalls)
	}

	wantCutoff := time.Now().AddDate(0, 0, -30)
	if diff := wantCutoff.Sub(repo.lastCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want roughly %v", repo.lastCutoff, wantCutoff)
	}
}

func TestRetentionStage_errorSurfacesAsStageError(t *testing.T) {
	repo := &fakeArticleRepo{deleteOlderThanErr: errors.New("delete failed")}

	stage := retentionStage(repo, 14)
	result, err := stage.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err = %v, want nil", err)
	}
	if result.OK {
		t.Error("want OK=false when DeleteOlderThan fails")
	}
}
