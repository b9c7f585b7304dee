// Package scheduler implements the HTTP-triggered cron driver (spec.md
// §4.9, §6): three endpoints (light, delta, daily) that each run a fixed
// sequence of pipeline stages with server-clamped per-stage caps, isolating
// each stage's failure from its siblings.
package scheduler

import (
	"context"
	"time"
)

// Options carries the already-clamped parameters a Stage needs for one
// invocation. Not every field applies to every stage.
type Options struct {
	Limit      int
	MaxQueries int
	PerQuery   int
	Breaking   bool
}

// StageResult is the tagged-variant result of one stage invocation (spec
// §9's "dynamic-shape result objects" design note): Ok carries counts,
// Err carries the failure, and a stage can be both ok and partial when its
// time budget ran out mid-run.
type StageResult struct {
	Stage   string           `json:"-"`
	OK      bool             `json:"ok"`
	TookMs  int64            `json:"took_ms"`
	Counts  map[string]int64 `json:"counts,omitempty"`
	Error   string           `json:"error,omitempty"`
	Partial bool             `json:"partial,omitempty"`
}

// Stage is one named, independently runnable pipeline step (spec §9's
// "module import as plugin" design note: a static registry of Stage
// implementations keyed by name, in place of the original's dynamic
// module-import-and-invoke pattern).
type Stage interface {
	Name() string
	Run(ctx context.Context, opts Options) (StageResult, error)
}

// stageFunc adapts a plain counts-returning function into a Stage,
// handling timing and deadline-exceeded classification uniformly so each
// pipeline stage's adapter only has to do its own work.
type stageFunc struct {
	name string
	fn   func(ctx context.Context, opts Options) (map[string]int64, error)
}

func newStage(name string, fn func(ctx context.Context, opts Options) (map[string]int64, error)) Stage {
	return &stageFunc{name: name, fn: fn}
}

func (s *stageFunc) Name() string { return s.name }

func (s *stageFunc) Run(ctx context.Context, opts Options) (StageResult, error) {
	start := time.Now()
	counts, err := s.fn(ctx, opts)
	result := StageResult{
		Stage:  s.name,
		TookMs: time.Since(start).Milliseconds(),
		Counts: counts,
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.OK = true
			result.Partial = true
			result.Error = "deadline_exceeded"
			return result, nil
		}
		result.OK = false
		result.Error = err.Error()
		return result, nil
	}
	result.OK = true
	return result, nil
}
