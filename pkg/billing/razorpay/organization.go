package razorpay

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// MembershipChange is the organization event that triggered a seat sync.
type MembershipChange string

const (
	MemberAdded        MembershipChange = "member_added"
	MemberRemoved      MembershipChange = "member_removed"
	InvitationAccepted MembershipChange = "invitation_accepted"
)

// OnMembershipChanged is the host's organization membership hook.
func (p *Provider) OnMembershipChanged(ctx context.Context, organizationID string, change MembershipChange) {
	p.logger.Debug("organization membership changed",
		billing.F("organization_id", organizationID),
		billing.F("change", string(change)))
	p.SyncSeats(ctx, organizationID)
}

// SyncSeats pushes the organization's member count to its active seat-based
// subscriptions. Best effort: nothing is returned; failures are logged and
// counted under RecordSeatSync("error").
func (p *Provider) SyncSeats(ctx context.Context, organizationID string) {
	org := p.config.Organization
	if !org.Enabled || org.Members == nil {
		return
	}

	count, err := org.Members.CountMembers(ctx, organizationID)
	if err != nil {
		p.seatSyncFailed(organizationID, "", err)
		return
	}
	if count < 1 {
		count = 1
	}

	subs, err := p.storage.ListByReference(ctx, organizationID)
	if err != nil {
		p.seatSyncFailed(organizationID, "", err)
		return
	}

	ref := Reference{Kind: billing.CustomerTypeOrganization, ID: organizationID}
	var targets []*billing.Subscription
	for _, s := range subs {
		if !sameKind(s, ref) || s.Status != billing.StatusActive || s.ProviderSubscriptionID == "" {
			continue
		}
		plan, ok := p.plans.ByName(s.Plan)
		if !ok || !plan.SeatBased || s.Quantity == count {
			continue
		}
		targets = append(targets, s)
	}
	if len(targets) == 0 {
		p.metrics.RecordSeatSync(providerName, "noop")
		return
	}

	workers := org.SeatSyncWorkers
	if workers <= 0 {
		workers = defaultSeatSyncWorkers
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, s := range targets {
		s := s
		g.Go(func() error {
			quantity := count
			_, _, err := p.pushUpdate(ctx, s, UpdateSubscriptionParams{
				Quantity:         &quantity,
				ScheduleChangeAt: ScheduleNow,
			})
			if err != nil {
				p.seatSyncFailed(organizationID, s.ID, err)
				return err
			}
			p.metrics.RecordSeatSync(providerName, "success")
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // failures are logged per subscription
}

func (p *Provider) seatSyncFailed(organizationID, subscriptionID string, err error) {
	p.logger.Error("seat sync failed",
		billing.F("organization_id", organizationID),
		billing.F("subscription_id", subscriptionID),
		billing.F("error", err))
	p.metrics.RecordSeatSync(providerName, "error")
}

// BeforeOrganizationDelete rejects deleting an organization that still has a
// live subscription. It never writes.
func (p *Provider) BeforeOrganizationDelete(ctx context.Context, organizationID string) error {
	subs, err := p.storage.ListByReference(ctx, organizationID)
	if err != nil {
		return storageErr(err)
	}
	ref := Reference{Kind: billing.CustomerTypeOrganization, ID: organizationID}
	for _, s := range subs {
		if sameKind(s, ref) && s.Status.IsLive() {
			return billing.ErrOrganizationHasActiveSubscription
		}
	}
	return nil
}
