package billing

import "fmt"

// Kind classifies an Error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindVerification
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRemote
	KindConfig
)

// Error carries a stable machine-readable code and a human-readable message.
// Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Code    string
	Message string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Code: code, Message: msg, Kind: kind}
}

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = newError(KindConfig, "PROVIDER_NOT_CONFIGURED", "billing provider not configured")

	// ErrAuthorizeReferenceRequired is returned when organization billing is enabled
	// without an authorization hook.
	ErrAuthorizeReferenceRequired = newError(KindConfig, "AUTHORIZE_REFERENCE_REQUIRED",
		"authorizeReference must be configured for organization billing")

	ErrMissingSignature     = newError(KindVerification, "MISSING_SIGNATURE", "webhook signature header is missing")
	ErrMissingWebhookSecret = newError(KindVerification, "MISSING_WEBHOOK_SECRET", "webhook secret is not configured")
	ErrInvalidSignature     = newError(KindVerification, "INVALID_SIGNATURE", "invalid webhook signature")
	ErrInvalidPayload       = newError(KindVerification, "INVALID_PAYLOAD", "invalid webhook payload")

	ErrSubscriptionNotFound = newError(KindNotFound, "SUBSCRIPTION_NOT_FOUND", "subscription not found")
	ErrPlanNotFound         = newError(KindNotFound, "PLAN_NOT_FOUND", "plan not found")
	ErrReferenceNotFound    = newError(KindNotFound, "REFERENCE_NOT_FOUND", "reference not found")

	ErrAlreadySubscribed = newError(KindConflict, "ALREADY_SUBSCRIBED_PLAN",
		"you're already subscribed to this plan")
	ErrSubscriptionNotActive = newError(KindConflict, "SUBSCRIPTION_NOT_ACTIVE", "subscription is not active")
	ErrAlreadyPaused         = newError(KindConflict, "SUBSCRIPTION_ALREADY_PAUSED", "subscription is already paused")
	ErrNotPaused             = newError(KindConflict, "SUBSCRIPTION_NOT_PAUSED", "subscription is not paused")
	ErrNotScheduledForCancel = newError(KindConflict, "SUBSCRIPTION_NOT_SCHEDULED_FOR_CANCELLATION",
		"subscription is not scheduled for cancellation")
	ErrAlreadyScheduledForCancel = newError(KindConflict, "SUBSCRIPTION_ALREADY_SCHEDULED_FOR_CANCELLATION",
		"subscription is already scheduled for cancellation")
	ErrOrganizationHasActiveSubscription = newError(KindConflict, "ORGANIZATION_HAS_ACTIVE_SUBSCRIPTION",
		"organization has an active subscription")
	ErrDuplicateProviderSubscription = newError(KindConflict, "DUPLICATE_PROVIDER_SUBSCRIPTION",
		"provider subscription id is already linked to another subscription")

	ErrUnauthorized            = newError(KindUnauthorized, "UNAUTHORIZED", "unauthorized")
	ErrReferenceNotAuthorized  = newError(KindForbidden, "REFERENCE_NOT_AUTHORIZED", "not authorized for this reference")
	ErrEmailVerificationNeeded = newError(KindForbidden, "EMAIL_VERIFICATION_REQUIRED",
		"email verification is required before subscribing")

	ErrInvalidRequest = newError(KindBadRequest, "INVALID_REQUEST", "invalid request")

	ErrCreateFailed   = newError(KindRemote, "SUBSCRIPTION_CREATE_FAILED", "failed to create subscription")
	ErrCancelFailed   = newError(KindRemote, "SUBSCRIPTION_CANCEL_FAILED", "failed to cancel subscription")
	ErrPauseFailed    = newError(KindRemote, "SUBSCRIPTION_PAUSE_FAILED", "failed to pause subscription")
	ErrResumeFailed   = newError(KindRemote, "SUBSCRIPTION_RESUME_FAILED", "failed to resume subscription")
	ErrUpdateFailed   = newError(KindRemote, "SUBSCRIPTION_UPDATE_FAILED", "failed to update subscription")
	ErrRestoreFailed  = newError(KindRemote, "SUBSCRIPTION_RESTORE_FAILED", "failed to restore subscription")
	ErrCustomerFailed = newError(KindRemote, "CUSTOMER_CREATE_FAILED", "failed to create customer")
	ErrCircuitOpen    = newError(KindRemote, "CIRCUIT_OPEN", "billing provider temporarily unavailable")

	ErrInternal = newError(KindInternal, "INTERNAL_ERROR", "internal error")
)
