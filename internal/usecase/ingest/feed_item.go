// Package ingest implements the Ingestor stage: turning upstream feed
// entries into canonicalized, persisted articles (spec.md §4.1).
package ingest

import "time"

// FeedItem is the shared DTO a feed-fetching adapter (RSS/Atom, or the
// web-discovery chat client) hands to the Ingestor. It carries enough of
// the raw entry for canonicalization, dedup, and the article's editorial
// fields — independent of which adapter produced it.
type FeedItem struct {
	Title       string
	URL         string
	Dek         string
	Author      string
	Content     string
	PublishedAt time.Time
}
