// Package river implements the River Query read path (spec.md §4.7): the
// ranked, clustered view of recent climate articles served to consumers.
// All of the contract's filtering, ordering, and shaping lives in the
// get_river_clusters stored function; this package only validates and
// clamps the caller's parameters before delegating to it.
package river

import (
	"context"
	"fmt"

	"github.com/dwahbe/climate-river/internal/repository"
)

const (
	defaultWindowHours = 7 * 24
	maxWindowHours      = 30 * 24
	defaultLimit        = 40
	maxLimit            = 200
)

// View selects the ranking the query uses: Score (default) or Latest
// (spec §4.7: "if view = latest, by lead's published_at desc").
type View string

const (
	ViewScore  View = "score"
	ViewLatest View = "latest"
)

// Query is the validated, clamped set of parameters for a River read.
type Query struct {
	View        View
	Category    string // empty means no category filter
	WindowHours int
	Limit       int
}

// Service implements the River Query.
type Service struct {
	Rivers repository.RiverRepository
}

// NewService constructs a River Query service.
func NewService(rivers repository.RiverRepository) *Service {
	return &Service{Rivers: rivers}
}

// Fetch runs the river query for the given (unvalidated) parameters,
// clamping window and limit to sane bounds (mirrors the Scheduler's own
// server-side clamping policy: caller input never exceeds a hard max).
func (s *Service) Fetch(ctx context.Context, view View, category string, windowHours, limit int) ([]*repository.RiverCluster, error) {
	q := normalizeQuery(view, category, windowHours, limit)

	var categoryArg *string
	if q.Category != "" {
		categoryArg = &q.Category
	}

	clusters, err := s.Rivers.Query(ctx, q.View == ViewLatest, q.WindowHours, q.Limit, categoryArg)
	if err != nil {
		return nil, fmt.Errorf("query river: %w", err)
	}
	return clusters, nil
}

func normalizeQuery(view View, category string, windowHours, limit int) Query {
	if view != ViewLatest {
		view = ViewScore
	}
	if windowHours <= 0 || windowHours > maxWindowHours {
		windowHours = defaultWindowHours
	}
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	return Query{View: view, Category: category, WindowHours: windowHours, Limit: limit}
}
