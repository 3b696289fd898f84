package razorpay

import (
	"context"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// SubscriptionEvent is handed to lifecycle callbacks. Event is nil when the
// transition was driven by an action endpoint rather than a webhook.
type SubscriptionEvent struct {
	Event        *Event
	Remote       *SubscriptionEntity
	Subscription *billing.Subscription
}

// CustomerEvent is handed to OnCustomerCreated.
type CustomerEvent struct {
	Kind        billing.CustomerType
	ReferenceID string
	Customer    *CustomerEntity
}

// Callbacks receives lifecycle notifications. Errors are logged and counted,
// never propagated to the provider. Embed NoopCallbacks to implement a subset.
type Callbacks interface {
	OnSubscriptionAuthenticated(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionActivated(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionCharged(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionPending(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionHalted(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionCompleted(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionUpdated(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionPaused(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionResumed(ctx context.Context, ev SubscriptionEvent) error
	OnSubscriptionCancelled(ctx context.Context, ev SubscriptionEvent) error

	// OnEvent observes every verified webhook after type-specific processing.
	OnEvent(ctx context.Context, ev *Event) error

	OnCustomerCreated(ctx context.Context, ev CustomerEvent) error
}

// NoopCallbacks implements Callbacks with no-ops.
type NoopCallbacks struct{}

func (NoopCallbacks) OnSubscriptionAuthenticated(context.Context, SubscriptionEvent) error { return nil }
func (NoopCallbacks) OnSubscriptionActivated(context.Context, SubscriptionEvent) error     { return nil }
func (NoopCallbacks) OnSubscriptionCharged(context.Context, SubscriptionEvent) error       { return nil }
func (NoopCallbacks) OnSubscriptionPending(context.Context, SubscriptionEvent) error       { return nil }
func (NoopCallbacks) OnSubscriptionHalted(context.Context, SubscriptionEvent) error        { return nil }
func (NoopCallbacks) OnSubscriptionCompleted(context.Context, SubscriptionEvent) error     { return nil }
func (NoopCallbacks) OnSubscriptionUpdated(context.Context, SubscriptionEvent) error       { return nil }
func (NoopCallbacks) OnSubscriptionPaused(context.Context, SubscriptionEvent) error        { return nil }
func (NoopCallbacks) OnSubscriptionResumed(context.Context, SubscriptionEvent) error       { return nil }
func (NoopCallbacks) OnSubscriptionCancelled(context.Context, SubscriptionEvent) error     { return nil }
func (NoopCallbacks) OnEvent(context.Context, *Event) error                                { return nil }
func (NoopCallbacks) OnCustomerCreated(context.Context, CustomerEvent) error               { return nil }

// callbackFor returns the lifecycle callback matching kind and its metric label.
func callbackFor(cb Callbacks, kind EventKind) (func(context.Context, SubscriptionEvent) error, string) {
	switch kind {
	case EventAuthenticated:
		return cb.OnSubscriptionAuthenticated, "authenticated"
	case EventActivated:
		return cb.OnSubscriptionActivated, "activated"
	case EventCharged:
		return cb.OnSubscriptionCharged, "charged"
	case EventPending:
		return cb.OnSubscriptionPending, "pending"
	case EventHalted:
		return cb.OnSubscriptionHalted, "halted"
	case EventCompleted:
		return cb.OnSubscriptionCompleted, "completed"
	case EventUpdated:
		return cb.OnSubscriptionUpdated, "updated"
	case EventPaused:
		return cb.OnSubscriptionPaused, "paused"
	case EventResumed:
		return cb.OnSubscriptionResumed, "resumed"
	case EventCancelled:
		return cb.OnSubscriptionCancelled, "cancelled"
	case EventUnknown:
		return nil, ""
	}
	return nil, ""
}
