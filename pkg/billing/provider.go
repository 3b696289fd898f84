package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface a billing backend exposes to the host.
type Provider interface {
	// Name returns the provider name (e.g., "razorpay")
	Name() string

	// WebhookHandler returns the HTTP handler that verifies and reconciles
	// provider events. It acknowledges every verified event.
	WebhookHandler() http.Handler

	// SyncSeats pushes the current membership count of an organization to its
	// seat-based subscriptions. Best effort: failures are logged, not returned.
	SyncSeats(ctx context.Context, organizationID string)
}
