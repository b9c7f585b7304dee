package db

import (
	"database/sql"
	_ "embed"
)

//go:embed schema/schema.sql
var schemaSQL string

//go:embed seeds/categories.sql
var seedCategoriesSQL string

// MigrateUp creates the schema (tables, indexes, the get_river_clusters
// function) if not already present and seeds the static category set.
// Safe to run repeatedly: every statement is idempotent.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	if _, err := db.Exec(seedCategoriesSQL); err != nil {
		return err
	}
	return nil
}

// MigrateDown drops the pipeline tables in dependency order. Categories and
// sources are left in place; they carry editorial configuration, not
// pipeline-derived state.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP FUNCTION IF EXISTS get_river_clusters(boolean, int, int, text)`,
		`DROP TABLE IF EXISTS article_categories CASCADE`,
		`DROP TABLE IF EXISTS cluster_scores CASCADE`,
		`DROP TABLE IF EXISTS article_clusters CASCADE`,
		`DROP TABLE IF EXISTS clusters CASCADE`,
		`DROP TABLE IF EXISTS articles CASCADE`,
	}
	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
