package river

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dwahbe/climate-river/internal/repository"
)

func TestHandler_ServeRiver_methodNotAllowed(t *testing.T) {
	h := NewHandler(NewService(&fakeRiverRepo{}))
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/river", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_ServeRiver_defaultsAndShape(t *testing.T) {
	repo := &fakeRiverRepo{clusters: []*repository.RiverCluster{
		{ClusterID: 1, Score: 9.5, Lead: repository.RiverArticle{ArticleID: 10, Title: "headline"}},
	}}
	h := NewHandler(NewService(repo))
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/river", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var body struct {
		Clusters []repository.RiverCluster `json:"clusters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(body.Clusters) != 1 || body.Clusters[0].ClusterID != 1 {
		t.Errorf("clusters = %+v, want one cluster with ID 1", body.Clusters)
	}
	if repo.gotWindowHours != defaultWindowHours || repo.gotLimit != defaultLimit {
		t.Errorf("defaults not applied: windowHours=%d limit=%d", repo.gotWindowHours, repo.gotLimit)
	}
}

func TestHandler_ServeRiver_parsesQueryParams(t *testing.T) {
	repo := &fakeRiverRepo{}
	h := NewHandler(NewService(repo))
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/river?view=latest&category=policy&window_hours=48&limit=10", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !repo.gotIsLatest {
		t.Error("want isLatest=true for view=latest")
	}
	if repo.gotWindowHours != 48 || repo.gotLimit != 10 {
		t.Errorf("windowHours=%d limit=%d, want 48/10", repo.gotWindowHours, repo.gotLimit)
	}
	if repo.gotCategory == nil || *repo.gotCategory != "policy" {
		t.Errorf("category = %v, want \"policy\"", repo.gotCategory)
	}
}

func TestHandler_ServeRiver_repositoryErrorIsSanitized(t *testing.T) {
	repo := &fakeRiverRepo{err: errors.New("connection refused")}
	h := NewHandler(NewService(repo))
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/river", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
