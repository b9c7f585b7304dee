package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dwahbe/climate-river/internal/repository"
)

// RiverRepo implements repository.RiverRepository by calling the
// get_river_clusters stored function (spec.md §6, §4.7).
type RiverRepo struct{ db *sql.DB }

// NewRiverRepo creates a new PostgreSQL-backed RiverRepository.
func NewRiverRepo(db *sql.DB) repository.RiverRepository {
	return &RiverRepo{db: db}
}

// riverArticleJSON mirrors the jsonb_build_object shape emitted by
// get_river_clusters for both the lead and subs/all_articles_by_source
// entries. article_count is only populated on subs entries.
type riverArticleJSON struct {
	ArticleID    int64      `json:"article_id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	SourceName   string     `json:"source_name"`
	SourceHost   string     `json:"source_host"`
	Author       string     `json:"author"`
	PublishedAt  *time.Time `json:"published_at"`
	ArticleCount int        `json:"article_count"`
}

func (j riverArticleJSON) toEntity() repository.RiverArticle {
	return repository.RiverArticle{
		ArticleID:    j.ArticleID,
		Title:        j.Title,
		URL:          j.URL,
		SourceName:   j.SourceName,
		SourceHost:   j.SourceHost,
		Author:       j.Author,
		PublishedAt:  j.PublishedAt,
		ArticleCount: j.ArticleCount,
	}
}

func (repo *RiverRepo) Query(ctx context.Context, isLatest bool, windowHours int, limit int, category *string) ([]*repository.RiverCluster, error) {
	const query = `SELECT * FROM get_river_clusters($1, $2, $3, $4)`

	rows, err := repo.db.QueryContext(ctx, query, isLatest, windowHours, limit, category)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	clusters := make([]*repository.RiverCluster, 0, limit)
	for rows.Next() {
		var (
			clusterID            int64
			score                float64
			sourcesCount         int
			leadRaw              []byte
			leadDek              string
			leadPublisherHome    string
			leadContentStatus    string
			leadContentWordCount sql.NullInt64
			subsRaw              []byte
			allBySourceRaw       []byte
		)

		if err := rows.Scan(
			&clusterID, &score, &sourcesCount, &leadRaw,
			&leadDek, &leadPublisherHome, &leadContentStatus, &leadContentWordCount,
			&subsRaw, &allBySourceRaw,
		); err != nil {
			return nil, fmt.Errorf("Query: Scan: %w", err)
		}

		var lead riverArticleJSON
		if err := json.Unmarshal(leadRaw, &lead); err != nil {
			return nil, fmt.Errorf("Query: unmarshal lead: %w", err)
		}

		var subsJSON []riverArticleJSON
		if err := json.Unmarshal(subsRaw, &subsJSON); err != nil {
			return nil, fmt.Errorf("Query: unmarshal subs: %w", err)
		}
		subs := make([]repository.RiverArticle, len(subsJSON))
		for i, s := range subsJSON {
			subs[i] = s.toEntity()
		}

		var allByHostJSON map[string][]riverArticleJSON
		if err := json.Unmarshal(allBySourceRaw, &allByHostJSON); err != nil {
			return nil, fmt.Errorf("Query: unmarshal all_articles_by_source: %w", err)
		}
		allByHost := make(map[string][]repository.RiverArticle, len(allByHostJSON))
		for host, articles := range allByHostJSON {
			converted := make([]repository.RiverArticle, len(articles))
			for i, a := range articles {
				converted[i] = a.toEntity()
			}
			allByHost[host] = converted
		}

		cluster := &repository.RiverCluster{
			ClusterID:             clusterID,
			Score:                 score,
			SourcesCount:          sourcesCount,
			Lead:                  lead.toEntity(),
			LeadDek:               leadDek,
			LeadPublisherHomepage: leadPublisherHome,
			LeadContentStatus:     leadContentStatus,
			Subs:                  subs,
			AllArticlesBySource:   allByHost,
		}
		if leadContentWordCount.Valid {
			n := int(leadContentWordCount.Int64)
			cluster.LeadContentWordCount = &n
		}
		clusters = append(clusters, cluster)
	}
	return clusters, rows.Err()
}
