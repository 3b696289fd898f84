package billing

import "time"

// Config defines the standard configuration all providers should accept
type Config struct {
	// Storage is the host persistence adapter (required).
	Storage Storage

	// Plans is the plan catalogue used to resolve provider plan ids to local names.
	Plans Plans

	// WebhookSecret is the shared secret used to verify webhook signatures.
	WebhookSecret string

	// Logger receives structured operational logs. Defaults to NoopLogger.
	Logger Logger

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}
