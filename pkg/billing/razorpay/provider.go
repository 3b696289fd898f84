// Package razorpay implements subscription billing on top of Razorpay:
// webhook verification and reconciliation, subscription actions, customer
// provisioning and organization seat sync.
package razorpay

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/rzpsub/pkg/billing"
	"github.com/mihaimyh/rzpsub/pkg/billing/internal"
)

const (
	providerName           = "razorpay"
	maxWebhookBody         = 256 * 1024
	rateLimitWindow        = time.Minute
	defaultSeatSyncWorkers = 4
)

// MemberCounter counts the members of an organization. It is supplied by the
// host's organization collaborator.
type MemberCounter interface {
	CountMembers(ctx context.Context, organizationID string) (int, error)
}

// MemberCounterFunc adapts a function to MemberCounter.
type MemberCounterFunc func(ctx context.Context, organizationID string) (int, error)

func (f MemberCounterFunc) CountMembers(ctx context.Context, organizationID string) (int, error) {
	return f(ctx, organizationID)
}

// OrganizationInfo is used to provision a provider customer for an organization.
type OrganizationInfo struct {
	Name  string
	Email string
}

// OrganizationConfig enables organization billing.
type OrganizationConfig struct {
	Enabled bool

	// Members is required for seat-based plans.
	Members MemberCounter

	// Describe returns the details used when creating an organization's
	// provider customer. Optional; the organization id is used as name otherwise.
	Describe func(ctx context.Context, organizationID string) (OrganizationInfo, error)

	// SeatSyncWorkers bounds concurrent quantity pushes per organization (default 4).
	SeatSyncWorkers int
}

// Config extends billing.Config with Razorpay options.
type Config struct {
	billing.Config

	// KeyID and KeySecret authenticate REST calls. Ignored when Service is set.
	KeyID     string
	KeySecret string

	// Service overrides the REST client, mainly for tests.
	Service Service

	// CircuitBreaker optionally guards every REST call.
	CircuitBreaker CircuitBreaker

	// Callbacks receives lifecycle notifications. Defaults to NoopCallbacks.
	Callbacks Callbacks

	Organization OrganizationConfig

	// AuthorizeReference decides whether the caller may act on a reference other
	// than their own user id. Required when organization billing is enabled.
	AuthorizeReference func(ctx context.Context, req AuthorizeRequest) (bool, error)

	// CreateCustomerOnSignUp provisions a provider customer from OnUserCreated.
	CreateCustomerOnSignUp bool

	// RequireEmailVerification rejects upgrades from unverified users.
	RequireEmailVerification bool

	// NewID generates local subscription ids. Defaults to uuid.NewString.
	NewID func() string

	// WebhookRateLimit is the number of webhook requests allowed per client IP
	// per minute. Zero or less disables the limiter; the provider delivers
	// from a small set of addresses, so keep it well above peak event volume.
	WebhookRateLimit int
}

// Provider implements billing.Provider for Razorpay.
type Provider struct {
	config        Config
	storage       billing.Storage
	plans         billing.Plans
	service       Service
	callbacks     Callbacks
	logger        billing.Logger
	metrics       billing.Metrics
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	now           func() time.Time
	newID         func() string
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider validates config and builds a Provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Storage == nil {
		return nil, billing.ErrProviderNotConfigured.Withf("razorpay: storage is required")
	}
	if config.Organization.Enabled && config.AuthorizeReference == nil {
		return nil, billing.ErrAuthorizeReferenceRequired
	}
	if err := validatePlans(config.Plans); err != nil {
		return nil, err
	}

	svc := config.Service
	if svc == nil {
		keyID := strings.TrimSpace(config.KeyID)
		keySecret := strings.TrimSpace(config.KeySecret)
		if keyID == "" || keySecret == "" {
			return nil, billing.ErrProviderNotConfigured.Withf("razorpay: key id and key secret are required")
		}
		svc = NewSDKService(keyID, keySecret)
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	callbacks := config.Callbacks
	if callbacks == nil {
		callbacks = NoopCallbacks{}
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	newID := config.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	var limiter *internal.RateLimiter
	if config.WebhookRateLimit > 0 {
		limiter = internal.NewRateLimiter(config.WebhookRateLimit, rateLimitWindow)
	}

	if config.CircuitBreaker != nil {
		svc = &breakerService{next: svc, breaker: config.CircuitBreaker}
	}
	svc = &instrumentedService{next: svc, metrics: metrics}

	return &Provider{
		config:        config,
		storage:       config.Storage,
		plans:         config.Plans,
		service:       svc,
		callbacks:     callbacks,
		logger:        logger,
		metrics:       metrics,
		rateLimiter:   limiter,
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		now:           now,
		newID:         newID,
	}, nil
}

func validatePlans(plans billing.Plans) error {
	seen := make(map[string]bool, len(plans))
	for _, p := range plans {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return billing.ErrProviderNotConfigured.Withf("razorpay: plan name is required")
		}
		if p.PlanID == "" {
			return billing.ErrProviderNotConfigured.Withf("razorpay: plan %q has no plan id", p.Name)
		}
		if seen[name] {
			return billing.ErrProviderNotConfigured.Withf("razorpay: duplicate plan %q", p.Name)
		}
		seen[name] = true
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the webhook endpoint, behind the per-IP limiter
// when WebhookRateLimit is set.
func (p *Provider) WebhookHandler() http.Handler {
	h := http.Handler(http.HandlerFunc(p.handleWebhook))
	if p.rateLimiter != nil {
		h = p.rateLimiter.Middleware(h)
	}
	return h
}

// Plans returns the configured plan catalogue.
func (p *Provider) Plans() billing.Plans {
	return p.plans
}

func (p *Provider) clock() time.Time {
	return p.now().UTC()
}
