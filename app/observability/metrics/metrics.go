package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	LoginAttemptsTotal     metric.Int64Counter
	LoginFailuresTotal     metric.Int64Counter
	TokenRefreshesTotal    metric.Int64Counter
	CacheHitsTotal         metric.Int64Counter
	CacheMissesTotal       metric.Int64Counter
	CacheSweepsTotal       metric.Int64Counter
	DbQueryDurationSeconds metric.Float64Histogram
	DbQueryErrorsTotal     metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments once, using the
// meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("go-user-directory")
		var err error
		m := &AppMetrics{}

		m.LoginAttemptsTotal, err = meter.Int64Counter(
			"login_attempts_total",
			metric.WithDescription("Total number of login attempts"),
			metric.WithUnit("{attempt}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_attempts_total: %v", err)
		}

		m.LoginFailuresTotal, err = meter.Int64Counter(
			"login_failures_total",
			metric.WithDescription("Total number of rejected login attempts"),
			metric.WithUnit("{attempt}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_failures_total: %v", err)
		}

		m.TokenRefreshesTotal, err = meter.Int64Counter(
			"token_refreshes_total",
			metric.WithDescription("Total number of refresh-token rotations"),
			metric.WithUnit("{rotation}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create token_refreshes_total: %v", err)
		}

		m.CacheHitsTotal, err = meter.Int64Counter(
			"cache_hits_total",
			metric.WithDescription("Total number of directory cache hits"),
			metric.WithUnit("{hit}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create cache_hits_total: %v", err)
		}

		m.CacheMissesTotal, err = meter.Int64Counter(
			"cache_misses_total",
			metric.WithDescription("Total number of directory cache misses"),
			metric.WithUnit("{miss}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create cache_misses_total: %v", err)
		}

		m.CacheSweepsTotal, err = meter.Int64Counter(
			"cache_sweeps_total",
			metric.WithDescription("Total number of listing-cache invalidation sweeps"),
			metric.WithUnit("{sweep}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create cache_sweeps_total: %v", err)
		}

		m.DbQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the AppMetrics instance, initializing it against the global
// MeterProvider on first use. Before the provider is configured this yields
// noop instruments, which keeps tests free of startup ordering.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}
