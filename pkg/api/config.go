package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/rzpsub/pkg/billing"
	"github.com/mihaimyh/rzpsub/pkg/billing/razorpay"
)

const defaultMaxBodyBytes = 64 * 1024

// Actions is the subscription action surface served over HTTP.
// *razorpay.Provider implements it.
type Actions interface {
	Upgrade(ctx context.Context, actor *billing.Actor, req razorpay.UpgradeRequest) (*razorpay.Result, error)
	Cancel(ctx context.Context, actor *billing.Actor, req razorpay.CancelRequest) (*razorpay.Result, error)
	Restore(ctx context.Context, actor *billing.Actor, req razorpay.SubscriptionRequest) (*razorpay.Result, error)
	Pause(ctx context.Context, actor *billing.Actor, req razorpay.SubscriptionRequest) (*razorpay.Result, error)
	Resume(ctx context.Context, actor *billing.Actor, req razorpay.SubscriptionRequest) (*razorpay.Result, error)
	Update(ctx context.Context, actor *billing.Actor, req razorpay.UpdateRequest) (*razorpay.Result, error)
	List(ctx context.Context, actor *billing.Actor, req razorpay.ReferenceRequest) ([]*billing.Subscription, error)
}

var _ Actions = (*razorpay.Provider)(nil)

// Config holds configuration for the subscription API handler
type Config struct {
	// Actions performs the subscription operations (required)
	Actions Actions

	// GetActor extracts the authenticated caller from the request.
	// Defaults to the actor stored by middleware/http.
	GetActor func(*http.Request) (*billing.Actor, error)

	// Webhook is mounted at WebhookPath by Routes when set.
	Webhook http.Handler

	// OnError handles errors (auth, internal, etc.)
	// If nil, writes {"code","message"} with the mapped status
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger receives internal failures. Defaults to NoopLogger.
	Logger billing.Logger

	// MaxBodyBytes caps request bodies (default 64KB).
	MaxBodyBytes int64
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Actions == nil {
		return fmt.Errorf("actions is required")
	}
	return nil
}

// NewHandler creates a new subscription API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetActor == nil {
		config.GetActor = FromContext()
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{config: config}, nil
}

// Helper functions for common actor extraction patterns

// FromContext returns a GetActor function reading the actor placed in the
// request context by middleware/http.
func FromContext() func(*http.Request) (*billing.Actor, error) {
	return func(r *http.Request) (*billing.Actor, error) {
		if a, ok := billing.ActorFromContext(r.Context()); ok {
			return a, nil
		}
		return nil, billing.ErrUnauthorized
	}
}

// FromHeader returns a GetActor function that trusts a user id header.
// Only suitable behind an authenticating proxy.
func FromHeader(userHeader, organizationHeader string) func(*http.Request) (*billing.Actor, error) {
	return func(r *http.Request) (*billing.Actor, error) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			return nil, billing.ErrUnauthorized
		}
		a := &billing.Actor{
			User:    billing.User{ID: userID, EmailVerified: true},
			Session: billing.Session{UserID: userID},
		}
		if organizationHeader != "" {
			a.Session.ActiveOrganizationID = r.Header.Get(organizationHeader)
		}
		return a, nil
	}
}
