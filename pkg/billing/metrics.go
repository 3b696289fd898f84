package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// status: "success", "ignored", "duplicate" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "handler_error", "observer_error"
	RecordWebhookError(provider, errorType string)

	// RecordStatusTransition records a local subscription status change.
	RecordStatusTransition(provider, from, to string)

	// RecordCallbackError records a failing user callback.
	RecordCallbackError(provider, callback string)

	// RecordAPICall records a call to the billing provider API.
	// status: "ok" or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)

	// RecordSeatSync records a seat synchronization attempt.
	// status: "success", "skipped" or "error"
	RecordSeatSync(provider, status string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordStatusTransition(_, _, _ string)                        {}
func (n *NoopMetrics) RecordCallbackError(_, _ string)                              {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
func (n *NoopMetrics) RecordSeatSync(_, _ string)                                   {}
