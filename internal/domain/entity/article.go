// Package entity defines the core domain entities and validation logic for
// the application: articles, sources, clusters, categories, and the rules
// that bind them.
package entity

import "time"

// ContentStatus classifies the outcome of a content-prefetch attempt.
// Values other than empty/Success are data, not exceptions: they tell the
// presentation layer whether to show a "read now" action.
type ContentStatus string

const (
	ContentStatusNone     ContentStatus = ""
	ContentStatusSuccess  ContentStatus = "success"
	ContentStatusPaywall  ContentStatus = "paywall"
	ContentStatusBlocked  ContentStatus = "blocked"
	ContentStatusTimeout  ContentStatus = "timeout"
	ContentStatusNotFound ContentStatus = "not_found"
	ContentStatusError    ContentStatus = "error"
)

// Article represents a single URL-identified news item ingested from an
// upstream source.
type Article struct {
	ID          int64
	SourceID    int64
	CanonicalURL string
	Title        string
	Dek          string
	Author       string
	PublisherName string
	PublisherHost string
	PublisherHomepage string
	PublishedAt *time.Time
	FetchedAt   time.Time

	Embedding []float32

	ContentText      string
	ContentHTML      string
	ContentWordCount *int
	ContentStatus    ContentStatus
	ContentFetchedAt *time.Time

	RewrittenTitle string
	RewrittenAt    *time.Time
	RewriteModel   string
	RewriteNotes   string

	CreatedAt time.Time
}

// DisplayTitle returns the rewritten title when present, else the original
// — the preference order the river query uses for lead titles (spec §4.7).
func (a *Article) DisplayTitle() string {
	if a.RewrittenTitle != "" {
		return a.RewrittenTitle
	}
	return a.Title
}

// HasReadableContent reports whether a "read now" action should be shown.
func (a *Article) HasReadableContent() bool {
	return a.ContentStatus == ContentStatusSuccess
}

// Validate checks the Article entity's invariants before persistence.
func (a *Article) Validate() error {
	if err := ValidateURL(a.CanonicalURL); err != nil {
		return err
	}
	if a.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if a.SourceID <= 0 {
		return &ValidationError{Field: "source_id", Message: "source_id is required"}
	}
	return nil
}
