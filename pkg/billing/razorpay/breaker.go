package razorpay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards remote calls. Execute returns billing.ErrCircuitOpen
// without calling fn while the breaker is open.
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
	State() BreakerState
}

// ConsecutiveBreaker opens after a run of consecutive failures and lets a
// single probe through once resetTimeout has elapsed.
type ConsecutiveBreaker struct {
	mu sync.Mutex

	state        BreakerState
	threshold    int
	resetTimeout time.Duration
	failures     int
	openedAt     time.Time
	probing      bool
	now          func() time.Time

	onStateChange func(BreakerState)
}

// NewCircuitBreaker returns a ConsecutiveBreaker. onStateChange may be nil.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration, onStateChange func(BreakerState)) *ConsecutiveBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &ConsecutiveBreaker{
		state:         BreakerClosed,
		threshold:     threshold,
		resetTimeout:  resetTimeout,
		now:           time.Now,
		onStateChange: onStateChange,
	}
}

func (cb *ConsecutiveBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *ConsecutiveBreaker) currentState() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return BreakerHalfOpen
	}
	return cb.state
}

func (cb *ConsecutiveBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	switch cb.currentState() {
	case BreakerOpen:
		cb.mu.Unlock()
		return billing.ErrCircuitOpen
	case BreakerHalfOpen:
		// one probe at a time
		if cb.probing {
			cb.mu.Unlock()
			return billing.ErrCircuitOpen
		}
		cb.probing = true
		cb.changeState(BreakerHalfOpen)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	switch {
	case err == nil:
		cb.failures = 0
		cb.changeState(BreakerClosed)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		// caller gave up; says nothing about the provider
		if cb.state == BreakerHalfOpen {
			cb.openedAt = cb.now()
			cb.changeState(BreakerOpen)
		}
	default:
		cb.failures++
		if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
			cb.openedAt = cb.now()
			cb.changeState(BreakerOpen)
		}
	}
	return err
}

func (cb *ConsecutiveBreaker) changeState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onStateChange != nil {
		cb.onStateChange(s)
	}
}

// breakerService runs every remote call through a CircuitBreaker.
type breakerService struct {
	next    Service
	breaker CircuitBreaker
}

func (s *breakerService) sub(ctx context.Context, fn func() (*SubscriptionEntity, error)) (*SubscriptionEntity, error) {
	var out *SubscriptionEntity
	err := s.breaker.Execute(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (s *breakerService) CreateSubscription(
	ctx context.Context, params CreateSubscriptionParams,
) (*SubscriptionEntity, error) {
	return s.sub(ctx, func() (*SubscriptionEntity, error) { return s.next.CreateSubscription(ctx, params) })
}

func (s *breakerService) UpdateSubscription(
	ctx context.Context, id string, params UpdateSubscriptionParams,
) (*SubscriptionEntity, error) {
	return s.sub(ctx, func() (*SubscriptionEntity, error) { return s.next.UpdateSubscription(ctx, id, params) })
}

func (s *breakerService) CancelSubscription(
	ctx context.Context, id string, atCycleEnd bool,
) (*SubscriptionEntity, error) {
	return s.sub(ctx, func() (*SubscriptionEntity, error) { return s.next.CancelSubscription(ctx, id, atCycleEnd) })
}

func (s *breakerService) PauseSubscription(ctx context.Context, id string) (*SubscriptionEntity, error) {
	return s.sub(ctx, func() (*SubscriptionEntity, error) { return s.next.PauseSubscription(ctx, id) })
}

func (s *breakerService) ResumeSubscription(ctx context.Context, id string) (*SubscriptionEntity, error) {
	return s.sub(ctx, func() (*SubscriptionEntity, error) { return s.next.ResumeSubscription(ctx, id) })
}

func (s *breakerService) CancelScheduledChanges(ctx context.Context, id string) (*SubscriptionEntity, error) {
	return s.sub(ctx, func() (*SubscriptionEntity, error) { return s.next.CancelScheduledChanges(ctx, id) })
}

func (s *breakerService) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*CustomerEntity, error) {
	var out *CustomerEntity
	err := s.breaker.Execute(ctx, func() error {
		var err error
		out, err = s.next.CreateCustomer(ctx, params)
		return err
	})
	return out, err
}
