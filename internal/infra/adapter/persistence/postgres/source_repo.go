package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/repository"
)

// SourceRepo implements repository.SourceRepository over PostgreSQL.
type SourceRepo struct{ db *sql.DB }

// NewSourceRepo creates a new PostgreSQL-backed SourceRepository.
func NewSourceRepo(db *sql.DB) repository.SourceRepository {
	return &SourceRepo{db: db}
}

const sourceColumns = `
id, slug, name, feed_url, homepage, weight, active,
last_fetched_at, fetch_status, consecutive_failures, created_at`

func scanSource(row interface{ Scan(dest ...interface{}) error }) (*entity.Source, error) {
	var s entity.Source
	err := row.Scan(
		&s.ID, &s.Slug, &s.Name, &s.FeedURL, &s.Homepage, &s.Weight, &s.Active,
		&s.LastFetchedAt, &s.FetchStatus, &s.ConsecutiveFailures, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (repo *SourceRepo) Get(ctx context.Context, id int64) (*entity.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1 LIMIT 1`
	s, err := scanSource(repo.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return s, nil
}

func (repo *SourceRepo) GetBySlug(ctx context.Context, slug string) (*entity.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE slug = $1 LIMIT 1`
	s, err := scanSource(repo.db.QueryRowContext(ctx, query, slug))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetBySlug: %w", err)
	}
	return s, nil
}

func (repo *SourceRepo) List(ctx context.Context) ([]*entity.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY name ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSourceRows(rows)
}

// ListDueForFetch orders candidates oldest-fetched-first, then by weight
// descending, matching the fairness rule in spec.md §4.1.
func (repo *SourceRepo) ListDueForFetch(ctx context.Context, limit int) ([]*entity.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources
WHERE active = TRUE
ORDER BY last_fetched_at ASC NULLS FIRST, weight DESC, id ASC
LIMIT $1`
	rows, err := repo.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ListDueForFetch: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSourceRows(rows)
}

func (repo *SourceRepo) Create(ctx context.Context, source *entity.Source) error {
	const query = `
INSERT INTO sources (slug, name, feed_url, homepage, weight, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`
	err := repo.db.QueryRowContext(ctx, query,
		source.Slug, source.Name, source.FeedURL, source.Homepage, source.Weight, source.Active,
	).Scan(&source.ID, &source.CreatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *SourceRepo) Update(ctx context.Context, source *entity.Source) error {
	const query = `
UPDATE sources SET
    name                 = $1,
    feed_url             = $2,
    homepage             = $3,
    weight               = $4,
    active                = $5,
    last_fetched_at      = $6,
    fetch_status         = $7,
    consecutive_failures = $8
WHERE id = $9`
	_, err := repo.db.ExecContext(ctx, query,
		source.Name, source.FeedURL, source.Homepage, source.Weight, source.Active,
		source.LastFetchedAt, source.FetchStatus, source.ConsecutiveFailures, source.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

// ExistsByHost normalizes sources.homepage the same way get_river_clusters
// normalizes article hosts, so Discoverer can compare against the already
// normalized host it has in hand.
func (repo *SourceRepo) ExistsByHost(ctx context.Context, normalizedHost string) (bool, error) {
	const query = `
SELECT EXISTS (
    SELECT 1 FROM sources
    WHERE lower(regexp_replace(
              split_part(split_part(homepage, '://', 2), '/', 1),
              '^(www\.|m\.|amp\.|edition\.|news\.|beta\.)', ''
          )) = $1
)`
	var exists bool
	if err := repo.db.QueryRowContext(ctx, query, normalizedHost).Scan(&exists); err != nil {
		return false, fmt.Errorf("ExistsByHost: %w", err)
	}
	return exists, nil
}

func scanSourceRows(rows *sql.Rows) ([]*entity.Source, error) {
	sources := make([]*entity.Source, 0, 50)
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanSourceRows: Scan: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}
