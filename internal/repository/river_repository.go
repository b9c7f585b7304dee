package repository

import (
	"context"
	"time"
)

// RiverArticle is one member of a cluster as surfaced to the presentation
// layer (a lead, or a "subs" entry).
type RiverArticle struct {
	ArticleID    int64
	Title        string
	URL          string
	SourceName   string
	SourceHost   string
	Author       string
	PublishedAt  *time.Time
	ArticleCount int // per-host count, only meaningful on subs entries
}

// RiverCluster is one row of the ranked river view (spec §4.7).
type RiverCluster struct {
	ClusterID             int64
	Score                 float64
	SourcesCount          int
	Lead                  RiverArticle
	LeadDek               string
	LeadPublisherHomepage string
	LeadContentStatus     string
	LeadContentWordCount  *int
	Subs                  []RiverArticle
	AllArticlesBySource   map[string][]RiverArticle
}

// RiverRepository wraps the get_river_clusters stored function (spec §6).
type RiverRepository interface {
	Query(ctx context.Context, isLatest bool, windowHours int, limit int, category *string) ([]*RiverCluster, error)
}
