package entity

import (
	"fmt"
	"strings"
	"time"
)

// FetchStatus records the outcome of a source's most recent feed fetch.
type FetchStatus string

const (
	FetchStatusUnknown FetchStatus = ""
	FetchStatusOK       FetchStatus = "ok"
	FetchStatusError    FetchStatus = "error"
)

// Source represents an upstream feed, domain, or discovery query that
// yields articles. The feed descriptor encodes which sub-mode produced
// (or should produce) it: rss://<url>, web://<host>, web-discovery://<query>.
type Source struct {
	ID            int64
	Slug          string
	Name          string
	FeedURL       string // the rss://|web://|web-discovery:// descriptor
	Homepage      string
	Weight        int
	Active        bool
	LastFetchedAt *time.Time
	FetchStatus   FetchStatus
	ConsecutiveFailures int
	CreatedAt     time.Time
}

const (
	feedSchemeRSS           = "rss://"
	feedSchemeWeb           = "web://"
	feedSchemeWebDiscovery  = "web-discovery://"
)

// Kind returns the descriptor scheme this source was created under.
func (s *Source) Kind() string {
	switch {
	case strings.HasPrefix(s.FeedURL, feedSchemeRSS):
		return "rss"
	case strings.HasPrefix(s.FeedURL, feedSchemeWeb):
		return "web"
	case strings.HasPrefix(s.FeedURL, feedSchemeWebDiscovery):
		return "web-discovery"
	default:
		return "unknown"
	}
}

// Descriptor returns the part of the feed URL after its scheme: the raw
// feed URL for rss://, the host for web://, the query for web-discovery://.
func (s *Source) Descriptor() string {
	switch s.Kind() {
	case "rss":
		return strings.TrimPrefix(s.FeedURL, feedSchemeRSS)
	case "web":
		return strings.TrimPrefix(s.FeedURL, feedSchemeWeb)
	case "web-discovery":
		return strings.TrimPrefix(s.FeedURL, feedSchemeWebDiscovery)
	default:
		return s.FeedURL
	}
}

// Validate checks the Source entity's invariants before persistence.
func (s *Source) Validate() error {
	if s.Slug == "" {
		return &ValidationError{Field: "slug", Message: "slug is required"}
	}
	if s.FeedURL == "" {
		return &ValidationError{Field: "feed_url", Message: "feed_url is required"}
	}
	if s.Kind() == "unknown" {
		return fmt.Errorf("invalid feed_url scheme: %q (must be rss://, web://, or web-discovery://)", s.FeedURL)
	}
	if s.Weight < 0 {
		return &ValidationError{Field: "weight", Message: "weight must be non-negative"}
	}
	return nil
}

// RecordFetchSuccess resets the failure streak and timestamps the fetch.
func (s *Source) RecordFetchSuccess(at time.Time) {
	s.LastFetchedAt = &at
	s.ConsecutiveFailures = 0
	s.FetchStatus = FetchStatusOK
}

// RecordFetchFailure bumps the failure streak, flipping status to error
// only after 3 consecutive failures (spec.md §4.1 error policy).
func (s *Source) RecordFetchFailure(at time.Time) {
	s.LastFetchedAt = &at
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= 3 {
		s.FetchStatus = FetchStatusError
	}
}
