// Package apitest provides an in-memory api.Actions for testing router integrations.
package apitest

import (
	"context"
	"sync"

	"github.com/mihaimyh/rzpsub/pkg/billing"
	"github.com/mihaimyh/rzpsub/pkg/billing/razorpay"
)

// Call is one recorded action invocation.
type Call struct {
	Op      string
	Actor   *billing.Actor
	Request interface{}
}

// Actions records every call and answers with Result, Subscriptions or Err.
type Actions struct {
	mu    sync.Mutex
	calls []Call

	Result        *razorpay.Result
	Subscriptions []*billing.Subscription
	Err           error
}

// Calls returns a copy of the recorded calls.
func (a *Actions) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Last returns the most recent call, or a zero Call.
func (a *Actions) Last() Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) == 0 {
		return Call{}
	}
	return a.calls[len(a.calls)-1]
}

func (a *Actions) record(op string, actor *billing.Actor, req interface{}) (*razorpay.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Op: op, Actor: actor, Request: req})
	if a.Err != nil {
		return nil, a.Err
	}
	if a.Result == nil {
		return &razorpay.Result{}, nil
	}
	return a.Result, nil
}

func (a *Actions) Upgrade(_ context.Context, actor *billing.Actor, req razorpay.UpgradeRequest) (*razorpay.Result, error) {
	return a.record("upgrade", actor, req)
}

func (a *Actions) Cancel(_ context.Context, actor *billing.Actor, req razorpay.CancelRequest) (*razorpay.Result, error) {
	return a.record("cancel", actor, req)
}

func (a *Actions) Restore(_ context.Context, actor *billing.Actor, req razorpay.SubscriptionRequest) (*razorpay.Result, error) {
	return a.record("restore", actor, req)
}

func (a *Actions) Pause(_ context.Context, actor *billing.Actor, req razorpay.SubscriptionRequest) (*razorpay.Result, error) {
	return a.record("pause", actor, req)
}

func (a *Actions) Resume(_ context.Context, actor *billing.Actor, req razorpay.SubscriptionRequest) (*razorpay.Result, error) {
	return a.record("resume", actor, req)
}

func (a *Actions) Update(_ context.Context, actor *billing.Actor, req razorpay.UpdateRequest) (*razorpay.Result, error) {
	return a.record("update", actor, req)
}

func (a *Actions) List(_ context.Context, actor *billing.Actor, req razorpay.ReferenceRequest) ([]*billing.Subscription, error) {
	if _, err := a.record("list", actor, req); err != nil {
		return nil, err
	}
	return a.Subscriptions, nil
}
