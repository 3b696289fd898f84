package razorpay

import (
	"context"
	"time"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// Schedule values accepted by UpdateSubscriptionParams.ScheduleChangeAt.
const (
	ScheduleNow      = "now"
	ScheduleCycleEnd = "cycle_end"
)

// CreateSubscriptionParams is the body of a subscription create call.
type CreateSubscriptionParams struct {
	PlanID         string
	TotalCount     int
	Quantity       int
	CustomerID     string
	CustomerNotify bool
	StartAt        int64
	Notes          map[string]string
}

// UpdateSubscriptionParams is the body of a subscription update call.
// Nil pointers and empty strings are omitted.
type UpdateSubscriptionParams struct {
	PlanID           string
	Quantity         *int
	RemainingCount   *int
	ScheduleChangeAt string
}

// CreateCustomerParams is the body of a customer create call.
type CreateCustomerParams struct {
	Name    string
	Email   string
	Contact string
	Notes   map[string]string
}

// Service is the subset of the provider REST API this package drives.
type Service interface {
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*SubscriptionEntity, error)
	UpdateSubscription(ctx context.Context, id string, params UpdateSubscriptionParams) (*SubscriptionEntity, error)
	CancelSubscription(ctx context.Context, id string, atCycleEnd bool) (*SubscriptionEntity, error)
	PauseSubscription(ctx context.Context, id string) (*SubscriptionEntity, error)
	ResumeSubscription(ctx context.Context, id string) (*SubscriptionEntity, error)
	CancelScheduledChanges(ctx context.Context, id string) (*SubscriptionEntity, error)
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*CustomerEntity, error)
}

// instrumentedService records call counts and latency for every remote call.
type instrumentedService struct {
	next    Service
	metrics billing.Metrics
}

func (s *instrumentedService) observe(endpoint string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordAPICall(providerName, endpoint, status)
	s.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}

func (s *instrumentedService) CreateSubscription(
	ctx context.Context, params CreateSubscriptionParams,
) (*SubscriptionEntity, error) {
	start := time.Now()
	sub, err := s.next.CreateSubscription(ctx, params)
	s.observe("subscriptions.create", start, err)
	return sub, err
}

func (s *instrumentedService) UpdateSubscription(
	ctx context.Context, id string, params UpdateSubscriptionParams,
) (*SubscriptionEntity, error) {
	start := time.Now()
	sub, err := s.next.UpdateSubscription(ctx, id, params)
	s.observe("subscriptions.update", start, err)
	return sub, err
}

func (s *instrumentedService) CancelSubscription(
	ctx context.Context, id string, atCycleEnd bool,
) (*SubscriptionEntity, error) {
	start := time.Now()
	sub, err := s.next.CancelSubscription(ctx, id, atCycleEnd)
	s.observe("subscriptions.cancel", start, err)
	return sub, err
}

func (s *instrumentedService) PauseSubscription(ctx context.Context, id string) (*SubscriptionEntity, error) {
	start := time.Now()
	sub, err := s.next.PauseSubscription(ctx, id)
	s.observe("subscriptions.pause", start, err)
	return sub, err
}

func (s *instrumentedService) ResumeSubscription(ctx context.Context, id string) (*SubscriptionEntity, error) {
	start := time.Now()
	sub, err := s.next.ResumeSubscription(ctx, id)
	s.observe("subscriptions.resume", start, err)
	return sub, err
}

func (s *instrumentedService) CancelScheduledChanges(ctx context.Context, id string) (*SubscriptionEntity, error) {
	start := time.Now()
	sub, err := s.next.CancelScheduledChanges(ctx, id)
	s.observe("subscriptions.cancel_scheduled_changes", start, err)
	return sub, err
}

func (s *instrumentedService) CreateCustomer(
	ctx context.Context, params CreateCustomerParams,
) (*CustomerEntity, error) {
	start := time.Now()
	cust, err := s.next.CreateCustomer(ctx, params)
	s.observe("customers.create", start, err)
	return cust, err
}
