package razorpay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

func TestUpgrade_NewSubscriptionThenActivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.provider.Upgrade(ctx, actor("user1"), UpgradeRequest{Plan: "pro"})
	require.NoError(t, err)

	sub := res.Subscription
	assert.Equal(t, billing.StatusCreated, sub.Status)
	assert.Equal(t, "pro", sub.Plan)
	assert.Empty(t, sub.ProviderPlanID)
	assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)
	assert.Equal(t, "cust_1", sub.ProviderCustomerID)
	assert.Equal(t, "https://rzp.io/i/1", res.CheckoutURL)

	require.Len(t, h.service.created, 1)
	params := h.service.created[0]
	assert.Equal(t, "plan_X", params.PlanID)
	assert.Equal(t, 12, params.TotalCount)
	assert.Equal(t, sub.ID, params.Notes[NoteSubscriptionID])
	assert.Equal(t, "user1", params.Notes[NoteReferenceID])

	h.deliver(t, "subscription.activated", activeEntity("sub_1"))

	got := h.get(t, sub.ID)
	assert.Equal(t, billing.StatusActive, got.Status)
	assert.Equal(t, "plan_X", got.ProviderPlanID)
	assert.Equal(t, "sub_1", got.ProviderSubscriptionID)
}

func TestUpgrade_AnnualAndTrial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.provider.Upgrade(ctx, actor("user1"), UpgradeRequest{Plan: "PRO", Annual: true})
	require.NoError(t, err)
	assert.Equal(t, "plan_XA", h.service.created[0].PlanID)
	assert.Equal(t, 1, h.service.created[0].TotalCount)

	_, err = h.provider.Upgrade(ctx, actor("user2"), UpgradeRequest{Plan: "trial"})
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(14*24*time.Hour).Unix(), h.service.created[1].StartAt)

	_, err = h.provider.Upgrade(ctx, actor("user3"), UpgradeRequest{Plan: "starter", Annual: true})
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
}

func TestUpgrade_RejectsDuplicatePlan(t *testing.T) {
	h := newHarness(t)
	h.seed(t, func(s *billing.Subscription) {
		s.Status = billing.StatusActive
		s.ProviderSubscriptionID = "sub_1"
		s.ProviderPlanID = "plan_X"
	})

	_, err := h.provider.Upgrade(context.Background(), actor("user1"), UpgradeRequest{Plan: "pro"})
	assert.ErrorIs(t, err, billing.ErrAlreadySubscribed)
	assert.Zero(t, h.service.total())
}

func TestUpgrade_ReferenceRequiresAuthorization(t *testing.T) {
	h := newHarness(t)

	_, err := h.provider.Upgrade(context.Background(), actor("user1"), UpgradeRequest{
		ReferenceRequest: ReferenceRequest{ReferenceID: "user2"},
		Plan:             "pro",
	})
	assert.ErrorIs(t, err, billing.ErrReferenceNotAuthorized)
	assert.Zero(t, h.service.total())

	_, err = h.provider.Upgrade(context.Background(), nil, UpgradeRequest{Plan: "pro"})
	assert.ErrorIs(t, err, billing.ErrUnauthorized)
}

func TestUpgrade_AuthorizationHook(t *testing.T) {
	var seen []AuthorizeRequest
	h := newHarness(t, func(c *Config) {
		c.AuthorizeReference = func(_ context.Context, req AuthorizeRequest) (bool, error) {
			seen = append(seen, req)
			return req.ReferenceID == "user2", nil
		}
	})
	ctx := context.Background()

	_, err := h.provider.Upgrade(ctx, actor("user1"), UpgradeRequest{
		ReferenceRequest: ReferenceRequest{ReferenceID: "user2"}, Plan: "pro",
	})
	require.NoError(t, err)

	_, err = h.provider.Upgrade(ctx, actor("user1"), UpgradeRequest{
		ReferenceRequest: ReferenceRequest{ReferenceID: "user3"}, Plan: "pro",
	})
	assert.ErrorIs(t, err, billing.ErrReferenceNotAuthorized)

	require.Len(t, seen, 2)
	assert.Equal(t, ActionUpgrade, seen[0].Action)
	assert.Equal(t, billing.CustomerTypeUser, seen[0].CustomerType)
}

func TestNewProvider_OrganizationsRequireAuthorizeHook(t *testing.T) {
	_, err := NewProvider(Config{
		Config:       billing.Config{Storage: newHarness(t).store},
		Service:      newFakeService(),
		Organization: OrganizationConfig{Enabled: true},
	})
	assert.ErrorIs(t, err, billing.ErrAuthorizeReferenceRequired)
}

func TestNewProvider_Validation(t *testing.T) {
	store := newHarness(t).store

	_, err := NewProvider(Config{Service: newFakeService()})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)

	_, err = NewProvider(Config{Config: billing.Config{Storage: store}})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured, "credentials are required without a Service")

	_, err = NewProvider(Config{
		Config:  billing.Config{Storage: store, Plans: billing.Plans{{Name: "pro", PlanID: "a"}, {Name: "Pro", PlanID: "b"}}},
		Service: newFakeService(),
	})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)

	p, err := NewProvider(Config{Config: billing.Config{Storage: store}, KeyID: "rzp_test", KeySecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "razorpay", p.Name())
}

func TestUpgrade_OrganizationSeats(t *testing.T) {
	h := newHarness(t, withOrganizations(7))
	ctx := context.Background()
	a := actor("user1")
	a.Session.ActiveOrganizationID = "org1"

	res, err := h.provider.Upgrade(ctx, a, UpgradeRequest{
		ReferenceRequest: ReferenceRequest{CustomerType: billing.CustomerTypeOrganization},
		Plan:             "team",
	})
	require.NoError(t, err)
	assert.Equal(t, "org1", res.Subscription.ReferenceID)
	assert.Equal(t, billing.CustomerTypeOrganization, res.Subscription.CustomerType)
	assert.Equal(t, 7, res.Subscription.Quantity)
	assert.Equal(t, 7, h.service.created[0].Quantity)

	cust, err := h.store.CustomerID(ctx, billing.CustomerTypeOrganization, "org1")
	require.NoError(t, err)
	assert.Equal(t, "cust_1", cust)

	_, err = h.provider.Upgrade(ctx, a, UpgradeRequest{
		ReferenceRequest: ReferenceRequest{ReferenceID: "org2", CustomerType: billing.CustomerTypeOrganization},
		Plan:             "team",
	})
	assert.ErrorIs(t, err, billing.ErrReferenceNotAuthorized)
}

func TestUpgrade_RollsBackOnRemoteFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SetCustomerID(context.Background(), billing.CustomerTypeUser, "user1", "cust_1"))
	h.service.failWith(errRemote)

	_, err := h.provider.Upgrade(context.Background(), actor("user1"), UpgradeRequest{Plan: "pro"})
	assert.ErrorIs(t, err, billing.ErrCreateFailed)
	assert.ErrorIs(t, err, errRemote)

	subs, err := h.store.ListByReference(context.Background(), "user1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestUpgrade_EmailVerification(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RequireEmailVerification = true })
	a := actor("user1")
	a.User.EmailVerified = false

	_, err := h.provider.Upgrade(context.Background(), a, UpgradeRequest{Plan: "pro"})
	assert.ErrorIs(t, err, billing.ErrEmailVerificationNeeded)
	assert.Zero(t, h.service.total())
}

func TestUpgrade_ChangesPlanOfLiveSubscription(t *testing.T) {
	h := newHarness(t)
	h.seedRemote(SubscriptionEntity{ID: "sub_1", PlanID: "plan_S", Status: "active", Quantity: 1})
	seeded := h.seed(t, func(s *billing.Subscription) {
		s.Plan = "starter"
		s.ProviderPlanID = "plan_S"
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})

	res, err := h.provider.Upgrade(context.Background(), actor("user1"), UpgradeRequest{Plan: "pro"})
	require.NoError(t, err)

	assert.Zero(t, h.service.count("create"))
	require.Len(t, h.service.updates, 1)
	assert.Equal(t, "plan_X", h.service.updates[0].PlanID)
	assert.Equal(t, ScheduleNow, h.service.updates[0].ScheduleChangeAt)
	assert.Equal(t, seeded.ID, res.Subscription.ID)
	assert.Equal(t, "pro", h.get(t, seeded.ID).Plan)
	assert.Equal(t, 1, h.callbacks.count("updated"))
}

func TestPauseResumeCycle(t *testing.T) {
	h := newHarness(t)
	h.seedRemote(SubscriptionEntity{ID: "sub_1", PlanID: "plan_X", Status: "active"})
	seeded := h.seed(t, func(s *billing.Subscription) {
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})
	ctx := context.Background()

	_, err := h.provider.Resume(ctx, actor("user1"), SubscriptionRequest{})
	assert.ErrorIs(t, err, billing.ErrNotPaused)

	res, err := h.provider.Pause(ctx, actor("user1"), SubscriptionRequest{})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaused, res.Subscription.Status)
	assert.NotNil(t, res.Subscription.PausedAt)

	_, err = h.provider.Pause(ctx, actor("user1"), SubscriptionRequest{SubscriptionID: seeded.ID})
	assert.ErrorIs(t, err, billing.ErrAlreadyPaused)

	res, err = h.provider.Resume(ctx, actor("user1"), SubscriptionRequest{})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, res.Subscription.Status)
	assert.Nil(t, res.Subscription.PausedAt)

	assert.Equal(t, 1, h.callbacks.count("paused"))
	assert.Equal(t, 1, h.callbacks.count("resumed"))

	// The confirming webhooks change nothing further.
	h.deliver(t, "subscription.resumed", SubscriptionEntity{ID: "sub_1", Status: "active"})
	assert.Equal(t, 1, h.callbacks.count("resumed"))
}

func TestPause_RequiresActive(t *testing.T) {
	h := newHarness(t)
	seeded := h.seed(t, func(s *billing.Subscription) {
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusHalted
	})

	_, err := h.provider.Pause(context.Background(), actor("user1"), SubscriptionRequest{SubscriptionID: seeded.ID})
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotActive)
	assert.Zero(t, h.service.total())
}

func TestPause_RemoteFailureLeavesRecord(t *testing.T) {
	h := newHarness(t)
	seeded := h.seed(t, func(s *billing.Subscription) {
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})
	h.service.failWith(errRemote)

	_, err := h.provider.Pause(context.Background(), actor("user1"), SubscriptionRequest{})
	assert.ErrorIs(t, err, billing.ErrPauseFailed)
	assert.Equal(t, billing.StatusActive, h.get(t, seeded.ID).Status)
}

func TestCancelAtCycleEndThenWebhook(t *testing.T) {
	h := newHarness(t)
	h.seedRemote(SubscriptionEntity{ID: "sub_1", PlanID: "plan_X", Status: "active"})
	seeded := h.seed(t, func(s *billing.Subscription) {
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})
	ctx := context.Background()

	res, err := h.provider.Cancel(ctx, actor("user1"), CancelRequest{CancelAtCycleEnd: true})
	require.NoError(t, err)
	assert.True(t, res.Subscription.CancelAtCycleEnd)
	assert.Equal(t, billing.StatusActive, res.Subscription.Status)
	assert.Zero(t, h.callbacks.count("cancelled"))

	_, err = h.provider.Cancel(ctx, actor("user1"), CancelRequest{CancelAtCycleEnd: true})
	assert.ErrorIs(t, err, billing.ErrAlreadyScheduledForCancel)

	h.deliver(t, "subscription.cancelled", SubscriptionEntity{ID: "sub_1", Status: "cancelled"})

	got := h.get(t, seeded.ID)
	assert.Equal(t, billing.StatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)
	assert.NotNil(t, got.EndedAt)
	assert.Equal(t, 1, h.callbacks.count("cancelled"))
}

func TestCancelImmediately(t *testing.T) {
	h := newHarness(t)
	h.seedRemote(SubscriptionEntity{ID: "sub_1", PlanID: "plan_X", Status: "active"})
	h.seed(t, func(s *billing.Subscription) {
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})

	res, err := h.provider.Cancel(context.Background(), actor("user1"), CancelRequest{})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, res.Subscription.Status)
	assert.NotNil(t, res.Subscription.CancelledAt)
	assert.Equal(t, 1, h.callbacks.count("cancelled"))

	// Confirmation from the provider does not fire the callback again.
	h.deliver(t, "subscription.cancelled", SubscriptionEntity{ID: "sub_1", Status: "cancelled", EndedAt: testNow.Unix()})
	assert.Equal(t, 1, h.callbacks.count("cancelled"))

	_, err = h.provider.Cancel(context.Background(), actor("user1"), CancelRequest{})
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	h.seedRemote(SubscriptionEntity{ID: "sub_1", PlanID: "plan_X", Status: "active"})
	h.seed(t, func(s *billing.Subscription) {
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})
	ctx := context.Background()

	_, err := h.provider.Restore(ctx, actor("user1"), SubscriptionRequest{})
	assert.ErrorIs(t, err, billing.ErrNotScheduledForCancel)

	_, err = h.provider.Cancel(ctx, actor("user1"), CancelRequest{CancelAtCycleEnd: true})
	require.NoError(t, err)

	res, err := h.provider.Restore(ctx, actor("user1"), SubscriptionRequest{})
	require.NoError(t, err)
	assert.False(t, res.Subscription.CancelAtCycleEnd)
	assert.Equal(t, 1, h.service.count("cancel_scheduled_changes"))
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)
	h.seedRemote(SubscriptionEntity{ID: "sub_1", PlanID: "plan_S", Status: "active", Quantity: 1})
	seeded := h.seed(t, func(s *billing.Subscription) {
		s.Plan = "starter"
		s.ProviderPlanID = "plan_S"
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})
	ctx := context.Background()
	three := 3

	res, err := h.provider.Update(ctx, actor("user1"), UpdateRequest{PlanID: "pro", Quantity: &three})
	require.NoError(t, err)
	assert.Equal(t, "pro", res.Subscription.Plan)
	assert.Equal(t, "plan_X", res.Subscription.ProviderPlanID)
	assert.Equal(t, 3, res.Subscription.Quantity)
	assert.Equal(t, 3, res.Remote.Quantity)

	five := 5
	res, err = h.provider.Update(ctx, actor("user1"), UpdateRequest{Quantity: &five, ScheduleChangeAt: ScheduleCycleEnd})
	require.NoError(t, err)
	assert.Equal(t, 3, h.get(t, seeded.ID).Quantity, "cycle-end changes wait for the webhook")
	assert.True(t, res.Remote.HasScheduledChanges)
}

func TestUpdate_Validation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, func(s *billing.Subscription) {
		s.ProviderSubscriptionID = "sub_1"
		s.Status = billing.StatusActive
	})
	ctx := context.Background()
	zero := 0

	_, err := h.provider.Update(ctx, actor("user1"), UpdateRequest{})
	assert.ErrorIs(t, err, billing.ErrInvalidRequest)
	_, err = h.provider.Update(ctx, actor("user1"), UpdateRequest{Quantity: &zero})
	assert.ErrorIs(t, err, billing.ErrInvalidRequest)
	_, err = h.provider.Update(ctx, actor("user1"), UpdateRequest{PlanID: "pro", ScheduleChangeAt: "tomorrow"})
	assert.ErrorIs(t, err, billing.ErrInvalidRequest)
	_, err = h.provider.Update(ctx, actor("user1"), UpdateRequest{PlanID: "enterprise"})
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
	assert.Zero(t, h.service.total())
}

func TestList(t *testing.T) {
	h := newHarness(t)
	h.seed(t, nil)
	h.seed(t, func(s *billing.Subscription) { s.Status = billing.StatusCancelled })
	h.seed(t, func(s *billing.Subscription) { s.ReferenceID = "user2" })

	subs, err := h.provider.List(context.Background(), actor("user1"), ReferenceRequest{})
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	subs, err = h.provider.List(context.Background(), actor("user3"), ReferenceRequest{})
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

func TestFindTarget_OtherReference(t *testing.T) {
	h := newHarness(t)
	other := h.seed(t, func(s *billing.Subscription) {
		s.ReferenceID = "user2"
		s.Status = billing.StatusActive
		s.ProviderSubscriptionID = "sub_2"
	})

	_, err := h.provider.Pause(context.Background(), actor("user1"), SubscriptionRequest{SubscriptionID: other.ID})
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}
