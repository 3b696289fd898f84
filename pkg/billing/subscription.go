// Package billing holds the provider-agnostic subscription model shared by
// payment providers, storage adapters and the HTTP endpoints.
package billing

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a subscription as mirrored from the provider.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAuthenticated Status = "authenticated"
	StatusActive        Status = "active"
	StatusPending       Status = "pending"
	StatusHalted        Status = "halted"
	StatusPaused        Status = "paused"
	StatusCancelled     Status = "cancelled"
	StatusCompleted     Status = "completed"
	StatusExpired       Status = "expired"
)

// ParseStatus maps a provider status string onto a Status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusCreated, StatusAuthenticated, StatusActive, StatusPending, StatusHalted,
		StatusPaused, StatusCancelled, StatusCompleted, StatusExpired:
		return st, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transition is expected from s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusExpired
}

// IsLive reports whether s counts towards the one-live-subscription-per-group rule:
// neither terminal nor still waiting for checkout.
func (s Status) IsLive() bool {
	return s != StatusCreated && !s.IsTerminal()
}

// CustomerType identifies the kind of billed entity.
type CustomerType string

const (
	CustomerTypeUser         CustomerType = "user"
	CustomerTypeOrganization CustomerType = "organization"
)

// Subscription is the locally persisted mirror of a provider subscription.
// Optional provider identifiers are empty strings when unset.
type Subscription struct {
	ID                     string       `json:"id"`
	ReferenceID            string       `json:"referenceId"`
	CustomerType           CustomerType `json:"customerType,omitempty"`
	Plan                   string       `json:"plan"`
	ProviderCustomerID     string       `json:"providerCustomerId,omitempty"`
	ProviderSubscriptionID string       `json:"providerSubscriptionId,omitempty"`
	ProviderPlanID         string       `json:"providerPlanId,omitempty"`
	Status                 Status       `json:"status"`
	CurrentPeriodStart     *time.Time   `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time   `json:"currentPeriodEnd,omitempty"`
	EndedAt                *time.Time   `json:"endedAt,omitempty"`
	CancelledAt            *time.Time   `json:"cancelledAt,omitempty"`
	PausedAt               *time.Time   `json:"pausedAt,omitempty"`
	Quantity               int          `json:"quantity"`
	TotalCount             int          `json:"totalCount"`
	PaidCount              int          `json:"paidCount"`
	RemainingCount         int          `json:"remainingCount"`
	CancelAtCycleEnd       bool         `json:"cancelAtCycleEnd"`
	GroupID                string       `json:"groupId,omitempty"`
	ShortURL               string       `json:"shortUrl,omitempty"`
	CreatedAt              time.Time    `json:"createdAt"`
	UpdatedAt              time.Time    `json:"updatedAt"`
}

// NewSubscription returns a subscription with the model defaults applied.
func NewSubscription(id, referenceID, plan string) *Subscription {
	return &Subscription{
		ID:          id,
		ReferenceID: referenceID,
		Plan:        strings.ToLower(plan),
		Status:      StatusCreated,
		Quantity:    1,
	}
}

// Clone returns a deep copy of s.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.EndedAt = cloneTime(s.EndedAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.PausedAt = cloneTime(s.PausedAt)
	return &c
}

// SameState reports whether s and o agree on every reconciled field.
// Bookkeeping timestamps (CreatedAt, UpdatedAt) are ignored.
func (s *Subscription) SameState(o *Subscription) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ID == o.ID &&
		s.ReferenceID == o.ReferenceID &&
		s.CustomerType == o.CustomerType &&
		s.Plan == o.Plan &&
		s.ProviderCustomerID == o.ProviderCustomerID &&
		s.ProviderSubscriptionID == o.ProviderSubscriptionID &&
		s.ProviderPlanID == o.ProviderPlanID &&
		s.Status == o.Status &&
		timeEqual(s.CurrentPeriodStart, o.CurrentPeriodStart) &&
		timeEqual(s.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		timeEqual(s.EndedAt, o.EndedAt) &&
		timeEqual(s.CancelledAt, o.CancelledAt) &&
		timeEqual(s.PausedAt, o.PausedAt) &&
		s.Quantity == o.Quantity &&
		s.TotalCount == o.TotalCount &&
		s.PaidCount == o.PaidCount &&
		s.RemainingCount == o.RemainingCount &&
		s.CancelAtCycleEnd == o.CancelAtCycleEnd &&
		s.GroupID == o.GroupID &&
		s.ShortURL == o.ShortURL
}

// FromUnix converts provider epoch seconds to an absolute time.
// Zero or negative values mean "unset" and yield nil, never the epoch.
func FromUnix(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
