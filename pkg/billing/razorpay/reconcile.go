package razorpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// reconcile brings the local mirror of the event's subscription in line with
// the provider's payload. Every field written comes from the payload, so
// replaying an event converges on the same record.
func (p *Provider) reconcile(ctx context.Context, ev *Event) (string, error) {
	remote := ev.Subscription()
	if remote == nil || remote.ID == "" {
		p.logger.Warn("razorpay webhook without subscription entity", billing.F("event", ev.Type))
		return outcomeIgnored, nil
	}
	if pay := ev.Payment(); pay != nil && ev.Kind == EventCharged {
		p.logger.Info("razorpay subscription charged",
			billing.F("subscription_id", remote.ID),
			billing.F("payment_id", pay.ID),
			billing.F("amount", pay.Amount),
			billing.F("currency", pay.Currency),
			billing.F("payment_status", pay.Status))
	}

	existing, err := p.locate(ctx, remote)
	if err != nil {
		return outcomeError, err
	}
	if existing != nil {
		return p.applyExisting(ctx, ev, remote, existing)
	}
	return p.createFromEvent(ctx, ev, remote)
}

// locate finds the local row for a provider subscription: by provider id,
// then by the local id stamped into notes before the provider id was known.
func (p *Provider) locate(ctx context.Context, remote *SubscriptionEntity) (*billing.Subscription, error) {
	sub, err := p.storage.FindByProviderSubscriptionID(ctx, remote.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, err
	}

	localID := remote.Notes[NoteSubscriptionID]
	if localID == "" {
		return nil, nil
	}
	sub, err = p.storage.GetSubscription(ctx, localID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sub.ProviderSubscriptionID != "" && sub.ProviderSubscriptionID != remote.ID {
		// row already paired with another provider subscription
		return nil, nil
	}
	return sub, nil
}

func (p *Provider) applyExisting(
	ctx context.Context, ev *Event, remote *SubscriptionEntity, existing *billing.Subscription,
) (string, error) {
	next := existing.Clone()
	p.applyEvent(ev.Kind, next, remote)
	if next.SameState(existing) {
		return outcomeDuplicate, nil
	}
	next.UpdatedAt = p.clock()
	if err := p.storage.UpdateSubscription(ctx, next); err != nil {
		return outcomeError, fmt.Errorf("failed to update subscription %s: %w", next.ID, err)
	}
	p.recordTransition(existing.Status, next.Status)
	p.notify(ctx, ev.Kind, SubscriptionEvent{Event: ev, Remote: remote, Subscription: next})
	return outcomeApplied, nil
}

// createFromEvent mirrors a subscription created outside this system, for
// example from the provider dashboard.
func (p *Provider) createFromEvent(ctx context.Context, ev *Event, remote *SubscriptionEntity) (string, error) {
	ref, ok, err := p.ResolveReference(ctx, remote.CustomerID, remote.Notes)
	if err != nil {
		return outcomeError, err
	}
	if !ok {
		p.logger.Warn("razorpay subscription has no local reference",
			billing.F("event", ev.Type),
			billing.F("subscription_id", remote.ID),
			billing.F("customer_id", remote.CustomerID))
		return outcomeOrphaned, nil
	}

	planName := p.plans.LocalName(remote.PlanID)
	if planName == "" {
		planName = strings.ToLower(remote.Notes[NotePlan])
	}
	if planName == "" {
		p.logger.Warn("razorpay plan is not configured; mirroring under provider plan id",
			billing.F("subscription_id", remote.ID),
			billing.F("plan_id", remote.PlanID))
		planName = remote.PlanID
	}

	now := p.clock()
	sub := billing.NewSubscription(p.newID(), ref.ID, planName)
	sub.CustomerType = ref.Kind
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if plan, ok := p.plans.ByName(planName); ok {
		sub.GroupID = plan.Group
	}
	mirrorRemote(sub, remote)
	p.applyEvent(ev.Kind, sub, remote)

	if err := p.storage.CreateSubscription(ctx, sub); err != nil {
		if !errors.Is(err, billing.ErrDuplicateProviderSubscription) {
			return outcomeError, fmt.Errorf("failed to create subscription for %s: %w", remote.ID, err)
		}
		// a concurrent delivery of the same subscription won the insert
		existing, err := p.storage.FindByProviderSubscriptionID(ctx, remote.ID)
		if err != nil {
			return outcomeError, err
		}
		return p.applyExisting(ctx, ev, remote, existing)
	}

	p.logger.Info("razorpay subscription mirrored",
		billing.F("subscription_id", remote.ID),
		billing.F("reference_id", ref.ID),
		billing.F("customer_type", string(ref.Kind)))
	p.recordTransition("", sub.Status)
	p.notify(ctx, ev.Kind, SubscriptionEvent{Event: ev, Remote: remote, Subscription: sub})
	return outcomeApplied, nil
}

// mirrorRemote copies every field the provider reports onto a new row.
func mirrorRemote(sub *billing.Subscription, remote *SubscriptionEntity) {
	sub.ProviderSubscriptionID = remote.ID
	sub.ProviderCustomerID = remote.CustomerID
	sub.ProviderPlanID = remote.PlanID
	if st, ok := billing.ParseStatus(remote.Status); ok {
		sub.Status = st
	}
	applyPeriod(sub, remote)
	applyCounters(sub, remote)
	if remote.ShortURL != "" {
		sub.ShortURL = remote.ShortURL
	}
	if remote.CancelAtCycleEnd != nil {
		sub.CancelAtCycleEnd = *remote.CancelAtCycleEnd
	}
}

// applyEvent maps one event kind onto the record.
func (p *Provider) applyEvent(kind EventKind, sub *billing.Subscription, remote *SubscriptionEntity) {
	sub.ProviderSubscriptionID = remote.ID
	if sub.ProviderCustomerID == "" {
		sub.ProviderCustomerID = remote.CustomerID
	}
	now := p.clock()

	switch kind {
	case EventAuthenticated:
		sub.Status = billing.StatusAuthenticated
	case EventActivated:
		sub.Status = billing.StatusActive
		p.applyPlan(sub, remote.PlanID)
		if remote.CustomerID != "" {
			sub.ProviderCustomerID = remote.CustomerID
		}
		applyPeriod(sub, remote)
		applyCounters(sub, remote)
		if remote.ShortURL != "" {
			sub.ShortURL = remote.ShortURL
		}
	case EventCharged:
		applyReportedStatus(sub, remote)
		applyPeriod(sub, remote)
		sub.PaidCount = remote.PaidCount
		sub.RemainingCount = remote.RemainingCount
	case EventPending:
		sub.Status = billing.StatusPending
	case EventHalted:
		sub.Status = billing.StatusHalted
	case EventCompleted:
		sub.Status = billing.StatusCompleted
		sub.EndedAt = setOnce(sub.EndedAt, remote.EndedAt, now)
		sub.PaidCount = remote.PaidCount
		sub.RemainingCount = 0
	case EventUpdated:
		applyReportedStatus(sub, remote)
		p.applyPlan(sub, remote.PlanID)
		applyPeriod(sub, remote)
		applyCounters(sub, remote)
		if remote.CancelAtCycleEnd != nil {
			sub.CancelAtCycleEnd = *remote.CancelAtCycleEnd
		}
	case EventPaused:
		sub.Status = billing.StatusPaused
		sub.PausedAt = setOnce(sub.PausedAt, remote.PausedAt, now)
	case EventResumed:
		if !applyReportedStatus(sub, remote) || sub.Status == billing.StatusPaused {
			sub.Status = billing.StatusActive
		}
		sub.PausedAt = nil
		applyPeriod(sub, remote)
	case EventCancelled:
		sub.Status = billing.StatusCancelled
		sub.CancelledAt = setOnce(sub.CancelledAt, 0, now)
		sub.EndedAt = setOnce(sub.EndedAt, remote.EndedAt, now)
	case EventUnknown:
	}
}

// applyPlan re-resolves the local plan name from a provider plan id.
// Unknown plan ids only update ProviderPlanID.
func (p *Provider) applyPlan(sub *billing.Subscription, providerPlanID string) {
	if providerPlanID == "" {
		return
	}
	sub.ProviderPlanID = providerPlanID
	if plan, ok := p.plans.ByProviderPlanID(providerPlanID); ok {
		sub.Plan = strings.ToLower(plan.Name)
		sub.GroupID = plan.Group
	}
}

func applyReportedStatus(sub *billing.Subscription, remote *SubscriptionEntity) bool {
	st, ok := billing.ParseStatus(remote.Status)
	if ok {
		sub.Status = st
	}
	return ok
}

func applyPeriod(sub *billing.Subscription, remote *SubscriptionEntity) {
	if t := billing.FromUnix(remote.CurrentStart); t != nil {
		sub.CurrentPeriodStart = t
	}
	if t := billing.FromUnix(remote.CurrentEnd); t != nil {
		sub.CurrentPeriodEnd = t
	}
}

func applyCounters(sub *billing.Subscription, remote *SubscriptionEntity) {
	if remote.Quantity > 0 {
		sub.Quantity = remote.Quantity
	}
	sub.TotalCount = remote.TotalCount
	sub.PaidCount = remote.PaidCount
	sub.RemainingCount = remote.RemainingCount
}

// setOnce keeps a lifecycle timestamp once set; otherwise it takes the
// provider's value, falling back to now.
func setOnce(current *time.Time, providerSec int64, now time.Time) *time.Time {
	if current != nil {
		return current
	}
	if t := billing.FromUnix(providerSec); t != nil {
		return t
	}
	return &now
}

func (p *Provider) recordTransition(from, to billing.Status) {
	if from == to {
		return
	}
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "none"
	}
	p.metrics.RecordStatusTransition(providerName, fromLabel, string(to))
}

// notify invokes the lifecycle callback for kind. Callback failures are
// logged and counted; they never fail the caller.
func (p *Provider) notify(ctx context.Context, kind EventKind, ev SubscriptionEvent) {
	fn, label := callbackFor(p.callbacks, kind)
	if fn == nil {
		return
	}
	subID := ""
	if ev.Subscription != nil {
		subID = ev.Subscription.ID
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("subscription callback panicked",
				billing.F("callback", label),
				billing.F("subscription_id", subID),
				billing.F("error", fmt.Errorf("panic: %v", rec)))
			p.metrics.RecordCallbackError(providerName, label)
		}
	}()
	if err := fn(ctx, ev); err != nil {
		p.logger.Error("subscription callback failed",
			billing.F("callback", label),
			billing.F("subscription_id", subID),
			billing.F("error", err))
		p.metrics.RecordCallbackError(providerName, label)
	}
}
