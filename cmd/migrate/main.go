// Command migrate bootstraps or tears down the climate-river schema.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/dwahbe/climate-river/internal/infra/db"
)

func main() {
	down := flag.Bool("down", false, "tear down the pipeline schema instead of creating it")
	flag.Parse()

	conn := db.Open()
	defer func() { _ = conn.Close() }()

	if *down {
		if err := db.MigrateDown(conn); err != nil {
			slog.Error("migration down failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("schema dropped")
		return
	}

	if err := db.MigrateUp(conn); err != nil {
		slog.Error("migration up failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("schema migrated")
}
