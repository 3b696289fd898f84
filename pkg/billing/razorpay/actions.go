package razorpay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// UpgradeRequest creates a subscription or moves a live one onto another plan.
type UpgradeRequest struct {
	ReferenceRequest
	Plan   string `json:"plan"`
	Annual bool   `json:"annual,omitempty"`
}

// CancelRequest cancels the reference's live subscription, now or at cycle end.
type CancelRequest struct {
	ReferenceRequest
	SubscriptionID   string `json:"subscriptionId,omitempty"`
	CancelAtCycleEnd bool   `json:"cancelAtCycleEnd,omitempty"`
}

// SubscriptionRequest targets one subscription of a reference. Without a
// SubscriptionID the most recent live subscription is used.
type SubscriptionRequest struct {
	ReferenceRequest
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// UpdateRequest changes plan, seats or remaining cycles of a live subscription.
type UpdateRequest struct {
	ReferenceRequest
	SubscriptionID   string `json:"subscriptionId,omitempty"`
	PlanID           string `json:"planId,omitempty"`
	Quantity         *int   `json:"quantity,omitempty"`
	RemainingCount   *int   `json:"remainingCount,omitempty"`
	ScheduleChangeAt string `json:"scheduleChangeAt,omitempty"`
}

// Result pairs the local record with the provider's view after an action.
type Result struct {
	Subscription *billing.Subscription `json:"subscription"`
	Remote       *SubscriptionEntity   `json:"remote,omitempty"`
	CheckoutURL  string                `json:"checkoutUrl,omitempty"`
}

// Upgrade subscribes the reference to a plan. A live subscription on the same
// plan is rejected; a live subscription on another plan of the same group is
// moved to the new plan instead of creating a second one.
func (p *Provider) Upgrade(ctx context.Context, actor *billing.Actor, req UpgradeRequest) (*Result, error) {
	plan, ok := p.plans.ByName(req.Plan)
	if !ok {
		return nil, billing.ErrPlanNotFound.Withf("plan %q not found", req.Plan)
	}
	providerPlanID := plan.ProviderPlanID(req.Annual)
	if providerPlanID == "" {
		return nil, billing.ErrPlanNotFound.Withf("plan %q has no annual billing", plan.Name)
	}

	ref, err := p.authorize(ctx, actor, req.ReferenceRequest, ActionUpgrade)
	if err != nil {
		return nil, err
	}
	if p.config.RequireEmailVerification && !actor.User.EmailVerified {
		return nil, billing.ErrEmailVerificationNeeded
	}

	subs, err := p.storage.ListByReference(ctx, ref.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	planName := strings.ToLower(plan.Name)
	var live *billing.Subscription
	for _, s := range subs {
		if !sameKind(s, ref) || s.GroupID != plan.Group || !s.Status.IsLive() {
			continue
		}
		if s.Plan == planName && (s.ProviderPlanID == "" || s.ProviderPlanID == providerPlanID) {
			return nil, billing.ErrAlreadySubscribed
		}
		live = s
	}

	quantity := 1
	if plan.SeatBased {
		quantity = p.seatCount(ctx, ref)
	}

	if live != nil {
		return p.changePlan(ctx, live, providerPlanID, plan.SeatBased, quantity)
	}

	customerID, err := p.ensureCustomerFor(ctx, ref, actor)
	if err != nil {
		return nil, err
	}

	now := p.clock()
	sub := billing.NewSubscription(p.newID(), ref.ID, planName)
	sub.CustomerType = ref.Kind
	sub.GroupID = plan.Group
	sub.ProviderCustomerID = customerID
	sub.Quantity = quantity
	sub.TotalCount = plan.CycleCount(req.Annual)
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if err := p.storage.CreateSubscription(ctx, sub); err != nil {
		return nil, storageErr(err)
	}

	params := CreateSubscriptionParams{
		PlanID:         providerPlanID,
		TotalCount:     sub.TotalCount,
		Quantity:       quantity,
		CustomerID:     customerID,
		CustomerNotify: true,
		Notes: map[string]string{
			NoteReferenceID:    ref.ID,
			NoteSubscriptionID: sub.ID,
			NoteCustomerType:   string(ref.Kind),
			NotePlan:           planName,
		},
	}
	if plan.FreeTrialDays > 0 {
		params.StartAt = now.Add(time.Duration(plan.FreeTrialDays) * 24 * time.Hour).Unix()
	}

	remote, err := p.service.CreateSubscription(ctx, params)
	if err != nil {
		if delErr := p.storage.DeleteSubscription(ctx, sub.ID); delErr != nil {
			p.logger.Error("failed to roll back subscription",
				billing.F("subscription_id", sub.ID),
				billing.F("error", delErr))
		}
		p.logger.Error("razorpay subscription create failed",
			billing.F("reference_id", ref.ID),
			billing.F("plan", planName),
			billing.F("error", err))
		return nil, billing.ErrCreateFailed.Wrap(err)
	}

	next, _, err := p.mutate(ctx, sub.ID, func(s *billing.Subscription) {
		if s.ProviderSubscriptionID == "" {
			s.ProviderSubscriptionID = remote.ID
		}
		if remote.ShortURL != "" {
			s.ShortURL = remote.ShortURL
		}
	})
	if err != nil {
		// the next webhook pairs the row through the notes subscription id
		p.logger.Warn("failed to link razorpay subscription",
			billing.F("subscription_id", sub.ID),
			billing.F("razorpay_subscription_id", remote.ID),
			billing.F("error", err))
		next = sub
	}
	p.recordTransition("", next.Status)
	return &Result{Subscription: next, Remote: remote, CheckoutURL: remote.ShortURL}, nil
}

func (p *Provider) changePlan(
	ctx context.Context, live *billing.Subscription, providerPlanID string, seatBased bool, quantity int,
) (*Result, error) {
	if live.ProviderSubscriptionID == "" {
		return nil, billing.ErrSubscriptionNotActive
	}
	params := UpdateSubscriptionParams{PlanID: providerPlanID, ScheduleChangeAt: ScheduleNow}
	if seatBased {
		params.Quantity = &quantity
	}
	next, remote, err := p.pushUpdate(ctx, live, params)
	if err != nil {
		return nil, err
	}
	return &Result{Subscription: next, Remote: remote}, nil
}

// Cancel cancels the target subscription immediately or at the end of the
// current cycle. Only immediate cancellation fires OnSubscriptionCancelled.
func (p *Provider) Cancel(ctx context.Context, actor *billing.Actor, req CancelRequest) (*Result, error) {
	ref, err := p.authorize(ctx, actor, req.ReferenceRequest, ActionCancel)
	if err != nil {
		return nil, err
	}
	target, err := p.findTarget(ctx, ref, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !target.Status.IsLive() || target.ProviderSubscriptionID == "" {
		return nil, billing.ErrSubscriptionNotActive
	}
	if req.CancelAtCycleEnd && target.CancelAtCycleEnd {
		return nil, billing.ErrAlreadyScheduledForCancel
	}

	remote, err := p.service.CancelSubscription(ctx, target.ProviderSubscriptionID, req.CancelAtCycleEnd)
	if err != nil {
		p.logRemoteFailure("cancel", target, err)
		return nil, billing.ErrCancelFailed.Wrap(err)
	}

	now := p.clock()
	next, changed, err := p.mutate(ctx, target.ID, func(s *billing.Subscription) {
		if req.CancelAtCycleEnd {
			s.CancelAtCycleEnd = true
			return
		}
		s.Status = billing.StatusCancelled
		s.CancelAtCycleEnd = false
		s.CancelledAt = setOnce(s.CancelledAt, 0, now)
		s.EndedAt = setOnce(s.EndedAt, remote.EndedAt, now)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if changed {
		p.recordTransition(target.Status, next.Status)
		kind := EventUpdated
		if !req.CancelAtCycleEnd {
			kind = EventCancelled
		}
		p.notify(ctx, kind, SubscriptionEvent{Remote: remote, Subscription: next})
	}
	return &Result{Subscription: next, Remote: remote}, nil
}

// Restore withdraws a pending cycle-end cancellation.
func (p *Provider) Restore(ctx context.Context, actor *billing.Actor, req SubscriptionRequest) (*Result, error) {
	ref, err := p.authorize(ctx, actor, req.ReferenceRequest, ActionRestore)
	if err != nil {
		return nil, err
	}
	target, err := p.findTarget(ctx, ref, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !target.CancelAtCycleEnd {
		return nil, billing.ErrNotScheduledForCancel
	}
	if target.Status.IsTerminal() || target.ProviderSubscriptionID == "" {
		return nil, billing.ErrSubscriptionNotActive
	}

	remote, err := p.service.CancelScheduledChanges(ctx, target.ProviderSubscriptionID)
	if err != nil {
		p.logRemoteFailure("restore", target, err)
		return nil, billing.ErrRestoreFailed.Wrap(err)
	}
	next, changed, err := p.mutate(ctx, target.ID, func(s *billing.Subscription) {
		s.CancelAtCycleEnd = false
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if changed {
		p.notify(ctx, EventUpdated, SubscriptionEvent{Remote: remote, Subscription: next})
	}
	return &Result{Subscription: next, Remote: remote}, nil
}

// Pause pauses an active subscription.
func (p *Provider) Pause(ctx context.Context, actor *billing.Actor, req SubscriptionRequest) (*Result, error) {
	ref, err := p.authorize(ctx, actor, req.ReferenceRequest, ActionPause)
	if err != nil {
		return nil, err
	}
	target, err := p.findTarget(ctx, ref, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	switch {
	case target.Status == billing.StatusPaused:
		return nil, billing.ErrAlreadyPaused
	case target.Status != billing.StatusActive || target.ProviderSubscriptionID == "":
		return nil, billing.ErrSubscriptionNotActive
	}

	remote, err := p.service.PauseSubscription(ctx, target.ProviderSubscriptionID)
	if err != nil {
		p.logRemoteFailure("pause", target, err)
		return nil, billing.ErrPauseFailed.Wrap(err)
	}
	now := p.clock()
	next, changed, err := p.mutate(ctx, target.ID, func(s *billing.Subscription) {
		s.Status = billing.StatusPaused
		s.PausedAt = setOnce(s.PausedAt, remote.PausedAt, now)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if changed {
		p.recordTransition(target.Status, next.Status)
		p.notify(ctx, EventPaused, SubscriptionEvent{Remote: remote, Subscription: next})
	}
	return &Result{Subscription: next, Remote: remote}, nil
}

// Resume resumes a paused subscription.
func (p *Provider) Resume(ctx context.Context, actor *billing.Actor, req SubscriptionRequest) (*Result, error) {
	ref, err := p.authorize(ctx, actor, req.ReferenceRequest, ActionResume)
	if err != nil {
		return nil, err
	}
	target, err := p.findTarget(ctx, ref, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if target.Status != billing.StatusPaused || target.ProviderSubscriptionID == "" {
		return nil, billing.ErrNotPaused
	}

	remote, err := p.service.ResumeSubscription(ctx, target.ProviderSubscriptionID)
	if err != nil {
		p.logRemoteFailure("resume", target, err)
		return nil, billing.ErrResumeFailed.Wrap(err)
	}
	next, changed, err := p.mutate(ctx, target.ID, func(s *billing.Subscription) {
		s.Status = billing.StatusActive
		s.PausedAt = nil
		applyPeriod(s, remote)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if changed {
		p.recordTransition(target.Status, next.Status)
		p.notify(ctx, EventResumed, SubscriptionEvent{Remote: remote, Subscription: next})
	}
	return &Result{Subscription: next, Remote: remote}, nil
}

// Update changes plan, quantity or remaining cycles of a live subscription.
// Changes scheduled for cycle end are mirrored locally by the webhook that
// confirms them.
func (p *Provider) Update(ctx context.Context, actor *billing.Actor, req UpdateRequest) (*Result, error) {
	params, err := p.updateParams(req)
	if err != nil {
		return nil, err
	}
	ref, err := p.authorize(ctx, actor, req.ReferenceRequest, ActionUpdate)
	if err != nil {
		return nil, err
	}
	target, err := p.findTarget(ctx, ref, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !target.Status.IsLive() || target.ProviderSubscriptionID == "" {
		return nil, billing.ErrSubscriptionNotActive
	}
	next, remote, err := p.pushUpdate(ctx, target, params)
	if err != nil {
		return nil, err
	}
	return &Result{Subscription: next, Remote: remote}, nil
}

func (p *Provider) updateParams(req UpdateRequest) (UpdateSubscriptionParams, error) {
	params := UpdateSubscriptionParams{
		Quantity:         req.Quantity,
		RemainingCount:   req.RemainingCount,
		ScheduleChangeAt: req.ScheduleChangeAt,
	}
	switch req.ScheduleChangeAt {
	case "", ScheduleNow, ScheduleCycleEnd:
	default:
		return params, billing.ErrInvalidRequest.Withf("scheduleChangeAt must be %q or %q", ScheduleNow, ScheduleCycleEnd)
	}
	if req.PlanID != "" {
		plan, ok := p.plans.Resolve(req.PlanID)
		if !ok {
			return params, billing.ErrPlanNotFound.Withf("plan %q not found", req.PlanID)
		}
		params.PlanID = plan.PlanID
		if plan.AnnualPlanID != "" && plan.AnnualPlanID == req.PlanID {
			params.PlanID = plan.AnnualPlanID
		}
	}
	if req.Quantity != nil && *req.Quantity < 1 {
		return params, billing.ErrInvalidRequest.Withf("quantity must be at least 1")
	}
	if req.RemainingCount != nil && *req.RemainingCount < 1 {
		return params, billing.ErrInvalidRequest.Withf("remainingCount must be at least 1")
	}
	if params.PlanID == "" && params.Quantity == nil && params.RemainingCount == nil {
		return params, billing.ErrInvalidRequest.Withf("nothing to update")
	}
	return params, nil
}

// List returns every subscription of the reference, oldest first.
func (p *Provider) List(ctx context.Context, actor *billing.Actor, req ReferenceRequest) ([]*billing.Subscription, error) {
	ref, err := p.authorize(ctx, actor, req, ActionList)
	if err != nil {
		return nil, err
	}
	subs, err := p.storage.ListByReference(ctx, ref.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]*billing.Subscription, 0, len(subs))
	for _, s := range subs {
		if sameKind(s, ref) {
			out = append(out, s)
		}
	}
	return out, nil
}

// pushUpdate sends an update to the provider and mirrors changes applied now
// onto the local row. Shared by Update, plan changes and seat sync.
func (p *Provider) pushUpdate(
	ctx context.Context, target *billing.Subscription, params UpdateSubscriptionParams,
) (*billing.Subscription, *SubscriptionEntity, error) {
	remote, err := p.service.UpdateSubscription(ctx, target.ProviderSubscriptionID, params)
	if err != nil {
		p.logRemoteFailure("update", target, err)
		return nil, nil, billing.ErrUpdateFailed.Wrap(err)
	}
	if params.ScheduleChangeAt == ScheduleCycleEnd {
		return target, remote, nil
	}
	next, changed, err := p.mutate(ctx, target.ID, func(s *billing.Subscription) {
		if params.PlanID != "" {
			p.applyPlan(s, params.PlanID)
		}
		if params.Quantity != nil {
			s.Quantity = *params.Quantity
		}
		if params.RemainingCount != nil {
			s.RemainingCount = *params.RemainingCount
		}
	})
	if err != nil {
		return nil, nil, storageErr(err)
	}
	if changed {
		p.notify(ctx, EventUpdated, SubscriptionEvent{Remote: remote, Subscription: next})
	}
	return next, remote, nil
}

// mutate re-reads the row, applies fn and writes it back when anything changed.
func (p *Provider) mutate(
	ctx context.Context, id string, fn func(*billing.Subscription),
) (*billing.Subscription, bool, error) {
	current, err := p.storage.GetSubscription(ctx, id)
	if err != nil {
		return nil, false, err
	}
	next := current.Clone()
	fn(next)
	if next.SameState(current) {
		return current, false, nil
	}
	next.UpdatedAt = p.clock()
	if err := p.storage.UpdateSubscription(ctx, next); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// findTarget returns the requested subscription of ref, or its most recent
// live one when id is empty.
func (p *Provider) findTarget(ctx context.Context, ref Reference, id string) (*billing.Subscription, error) {
	if id != "" {
		sub, err := p.storage.GetSubscription(ctx, id)
		if err != nil {
			if errors.Is(err, billing.ErrSubscriptionNotFound) {
				return nil, billing.ErrSubscriptionNotFound
			}
			return nil, storageErr(err)
		}
		if sub.ReferenceID != ref.ID || !sameKind(sub, ref) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return sub, nil
	}

	subs, err := p.storage.ListByReference(ctx, ref.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	for i := len(subs) - 1; i >= 0; i-- {
		if sameKind(subs[i], ref) && subs[i].Status.IsLive() {
			return subs[i], nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

// seatCount returns the organization's member count, at least 1.
func (p *Provider) seatCount(ctx context.Context, ref Reference) int {
	members := p.config.Organization.Members
	if ref.Kind != billing.CustomerTypeOrganization || members == nil {
		return 1
	}
	n, err := members.CountMembers(ctx, ref.ID)
	if err != nil {
		p.logger.Warn("failed to count organization members",
			billing.F("organization_id", ref.ID),
			billing.F("error", err))
		return 1
	}
	if n < 1 {
		return 1
	}
	return n
}

func (p *Provider) logRemoteFailure(op string, sub *billing.Subscription, err error) {
	p.logger.Error("razorpay "+op+" failed",
		billing.F("subscription_id", sub.ID),
		billing.F("razorpay_subscription_id", sub.ProviderSubscriptionID),
		billing.F("error", err))
}

// sameKind treats rows without a customer type as user rows.
func sameKind(sub *billing.Subscription, ref Reference) bool {
	kind := sub.CustomerType
	if kind == "" {
		kind = billing.CustomerTypeUser
	}
	return kind == ref.Kind
}
