package razorpay

import (
	"encoding/json"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// EventKind enumerates the subscription webhook events the reconciler handles.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAuthenticated
	EventActivated
	EventCharged
	EventPending
	EventHalted
	EventCompleted
	EventUpdated
	EventPaused
	EventResumed
	EventCancelled
)

var eventNames = [...]string{
	EventUnknown:       "unknown",
	EventAuthenticated: "subscription.authenticated",
	EventActivated:     "subscription.activated",
	EventCharged:       "subscription.charged",
	EventPending:       "subscription.pending",
	EventHalted:        "subscription.halted",
	EventCompleted:     "subscription.completed",
	EventUpdated:       "subscription.updated",
	EventPaused:        "subscription.paused",
	EventResumed:       "subscription.resumed",
	EventCancelled:     "subscription.cancelled",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return eventNames[EventUnknown]
	}
	return eventNames[k]
}

// ParseEventKind maps a webhook event name onto its kind, or EventUnknown.
func ParseEventKind(name string) EventKind {
	for k := EventAuthenticated; int(k) < len(eventNames); k++ {
		if eventNames[k] == name {
			return k
		}
	}
	return EventUnknown
}

// PaymentEntity is the payment attached to charge events.
type PaymentEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Payload holds the entities embedded in a webhook event.
type Payload struct {
	Subscription *struct {
		Entity *SubscriptionEntity `json:"entity"`
	} `json:"subscription,omitempty"`
	Payment *struct {
		Entity *PaymentEntity `json:"entity"`
	} `json:"payment,omitempty"`
}

// Event is a verified webhook delivery.
type Event struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Type      string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   Payload  `json:"payload"`
	CreatedAt int64    `json:"created_at"`

	// Kind is derived from Type by ParseEvent.
	Kind EventKind `json:"-"`
}

// ParseEvent decodes a webhook body. A body without an event name is invalid.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, billing.ErrInvalidPayload.Wrap(err)
	}
	if ev.Type == "" {
		return nil, billing.ErrInvalidPayload.Withf("webhook event name is missing")
	}
	ev.Kind = ParseEventKind(ev.Type)
	return &ev, nil
}

// Subscription returns the embedded subscription entity, or nil.
func (e *Event) Subscription() *SubscriptionEntity {
	if e == nil || e.Payload.Subscription == nil {
		return nil
	}
	return e.Payload.Subscription.Entity
}

// Payment returns the embedded payment entity, or nil.
func (e *Event) Payment() *PaymentEntity {
	if e == nil || e.Payload.Payment == nil {
		return nil
	}
	return e.Payload.Payment.Entity
}
