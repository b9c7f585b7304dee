package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dwahbe/climate-river/internal/pkg/config"
)

// WorkerConfig holds the configuration for the HTTP-triggered scheduler.
// There is no in-process cron: an external scheduler (platform cron, a
// GitHub Actions workflow, cron-job.org) calls the /cron/{light,delta,daily}
// endpoints and this process only needs to know how to authenticate those
// calls and how large a batch each tier is allowed to touch.
//
// Configuration sources:
//   - Environment variables (loaded via LoadConfigFromEnv)
//   - Default values (provided by DefaultConfig)
//
// All fields have sensible defaults and validation rules to ensure
// the worker can operate safely even with invalid or missing configuration.
type WorkerConfig struct {
	// AdminToken gates the /cron/* endpoints (compared with
	// crypto/subtle.ConstantTimeCompare against an Authorization: Bearer
	// header). Empty disables auth, which is only acceptable in local dev.
	AdminToken string

	// LightStageCap is the max number of sources the light tier fetches per
	// invocation.
	LightStageCap int

	// DeltaStageCap is the max number of sources the delta tier fetches per
	// invocation.
	DeltaStageCap int

	// DailyStageCap is the max number of sources the daily tier fetches per
	// invocation.
	DailyStageCap int

	// RetentionDays is how long articles are kept before the daily tier
	// prunes them (spec §4.1's retention pass, keyed on
	// coalesce(published_at, fetched_at)).
	RetentionDays int

	// BackfillHours is the lookback window the daily tier uses when
	// retrying articles stuck in a non-terminal content-fetch status.
	BackfillHours int

	// BackfillBatch caps how many articles a single backfill pass retries.
	BackfillBatch int

	// CrawlTimeout is the maximum duration for a single stage invocation.
	// After this timeout, the stage's context is cancelled.
	CrawlTimeout time.Duration

	// HealthPort is the port number for the health check HTTP server.
	HealthPort int
}

// DefaultConfig returns a WorkerConfig with sensible default values.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		AdminToken:    "",
		LightStageCap: 40,
		DeltaStageCap: 120,
		DailyStageCap: 400,
		RetentionDays: 14,
		BackfillHours: 48,
		BackfillBatch: 200,
		CrawlTimeout:  30 * time.Minute,
		HealthPort:    9091,
	}
}

// Validate checks if the configuration values are valid. If multiple fields
// are invalid, all errors are collected and returned together.
func (c *WorkerConfig) Validate() error {
	var errors []error

	if err := config.ValidateIntRange(c.LightStageCap, 1, 5000); err != nil {
		errors = append(errors, fmt.Errorf("light stage cap: %w", err))
	}
	if err := config.ValidateIntRange(c.DeltaStageCap, 1, 5000); err != nil {
		errors = append(errors, fmt.Errorf("delta stage cap: %w", err))
	}
	if err := config.ValidateIntRange(c.DailyStageCap, 1, 5000); err != nil {
		errors = append(errors, fmt.Errorf("daily stage cap: %w", err))
	}
	if err := config.ValidateIntRange(c.RetentionDays, 1, 365); err != nil {
		errors = append(errors, fmt.Errorf("retention days: %w", err))
	}
	if err := config.ValidateIntRange(c.BackfillHours, 1, 24*30); err != nil {
		errors = append(errors, fmt.Errorf("backfill hours: %w", err))
	}
	if err := config.ValidateIntRange(c.BackfillBatch, 1, 5000); err != nil {
		errors = append(errors, fmt.Errorf("backfill batch: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.CrawlTimeout); err != nil {
		errors = append(errors, fmt.Errorf("crawl timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errors = append(errors, fmt.Errorf("health port: %w", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}
	return nil
}

// LoadConfigFromEnv loads worker configuration from environment variables
// with validation and automatic fallback to default values on failure.
// It never returns an error — invalid values fall back and are logged.
//
// Environment variables:
//   - ADMIN_TOKEN: bearer token for /cron/* auth (default: "", auth disabled)
//   - LIGHT_STAGE_CAP / DELTA_STAGE_CAP / DAILY_STAGE_CAP: integers 1-5000
//   - RETENTION_DAYS: integer 1-365 (default: 14)
//   - BACKFILL_HOURS: integer 1-720 (default: 48)
//   - BACKFILL_BATCH: integer 1-5000 (default: 200)
//   - CRAWL_TIMEOUT: duration string, e.g., "30m" (default: 30 minutes)
//   - HEALTH_PORT: integer 1024-65535 (default: 9091)
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	apply := func(field, metricKey string, result config.ConfigLoadResult) {
		if !result.FallbackApplied {
			return
		}
		fallbackApplied = true
		metrics.RecordValidationError(metricKey)
		metrics.RecordFallback(metricKey, "default")
		for _, warning := range result.Warnings {
			logger.Warn("configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}

	tokenResult := config.LoadEnvWithFallback("ADMIN_TOKEN", cfg.AdminToken, nil)
	cfg.AdminToken = tokenResult.Value.(string)

	lightResult := config.LoadEnvInt("LIGHT_STAGE_CAP", cfg.LightStageCap, func(v int) error {
		return config.ValidateIntRange(v, 1, 5000)
	})
	cfg.LightStageCap = lightResult.Value.(int)
	apply("LightStageCap", "light_stage_cap", lightResult)

	deltaResult := config.LoadEnvInt("DELTA_STAGE_CAP", cfg.DeltaStageCap, func(v int) error {
		return config.ValidateIntRange(v, 1, 5000)
	})
	cfg.DeltaStageCap = deltaResult.Value.(int)
	apply("DeltaStageCap", "delta_stage_cap", deltaResult)

	dailyResult := config.LoadEnvInt("DAILY_STAGE_CAP", cfg.DailyStageCap, func(v int) error {
		return config.ValidateIntRange(v, 1, 5000)
	})
	cfg.DailyStageCap = dailyResult.Value.(int)
	apply("DailyStageCap", "daily_stage_cap", dailyResult)

	retentionResult := config.LoadEnvInt("RETENTION_DAYS", cfg.RetentionDays, func(v int) error {
		return config.ValidateIntRange(v, 1, 365)
	})
	cfg.RetentionDays = retentionResult.Value.(int)
	apply("RetentionDays", "retention_days", retentionResult)

	backfillHoursResult := config.LoadEnvInt("BACKFILL_HOURS", cfg.BackfillHours, func(v int) error {
		return config.ValidateIntRange(v, 1, 24*30)
	})
	cfg.BackfillHours = backfillHoursResult.Value.(int)
	apply("BackfillHours", "backfill_hours", backfillHoursResult)

	backfillBatchResult := config.LoadEnvInt("BACKFILL_BATCH", cfg.BackfillBatch, func(v int) error {
		return config.ValidateIntRange(v, 1, 5000)
	})
	cfg.BackfillBatch = backfillBatchResult.Value.(int)
	apply("BackfillBatch", "backfill_batch", backfillBatchResult)

	timeoutResult := config.LoadEnvDuration("CRAWL_TIMEOUT", cfg.CrawlTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 1*time.Minute, 4*time.Hour)
	})
	cfg.CrawlTimeout = timeoutResult.Value.(time.Duration)
	apply("CrawlTimeout", "crawl_timeout", timeoutResult)

	healthPortResult := config.LoadEnvInt("HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = healthPortResult.Value.(int)
	apply("HealthPort", "health_port", healthPortResult)

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
