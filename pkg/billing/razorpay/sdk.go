package razorpay

import (
	"context"

	rzp "github.com/razorpay/razorpay-go"
)

// sdkService implements Service on top of the official razorpay-go client.
// The SDK is not context-aware; cancellation is honoured before each call.
type sdkService struct {
	client *rzp.Client
}

// NewSDKService returns a Service backed by razorpay-go using API key credentials.
func NewSDKService(keyID, keySecret string) Service {
	return &sdkService{client: rzp.NewClient(keyID, keySecret)}
}

func (s *sdkService) CreateSubscription(
	ctx context.Context, params CreateSubscriptionParams,
) (*SubscriptionEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"plan_id":         params.PlanID,
		"total_count":     params.TotalCount,
		"quantity":        params.Quantity,
		"customer_notify": boolInt(params.CustomerNotify),
	}
	if params.CustomerID != "" {
		data["customer_id"] = params.CustomerID
	}
	if params.StartAt > 0 {
		data["start_at"] = params.StartAt
	}
	if len(params.Notes) > 0 {
		data["notes"] = params.Notes
	}
	body, err := s.client.Subscription.Create(data, nil)
	if err != nil {
		return nil, err
	}
	return toSubscription(body)
}

func (s *sdkService) UpdateSubscription(
	ctx context.Context, id string, params UpdateSubscriptionParams,
) (*SubscriptionEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	if params.PlanID != "" {
		data["plan_id"] = params.PlanID
	}
	if params.Quantity != nil {
		data["quantity"] = *params.Quantity
	}
	if params.RemainingCount != nil {
		data["remaining_count"] = *params.RemainingCount
	}
	if params.ScheduleChangeAt != "" {
		data["schedule_change_at"] = params.ScheduleChangeAt
	}
	body, err := s.client.Subscription.Update(id, data, nil)
	if err != nil {
		return nil, err
	}
	return toSubscription(body)
}

func (s *sdkService) CancelSubscription(
	ctx context.Context, id string, atCycleEnd bool,
) (*SubscriptionEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{"cancel_at_cycle_end": boolInt(atCycleEnd)}
	body, err := s.client.Subscription.Cancel(id, data, nil)
	if err != nil {
		return nil, err
	}
	return toSubscription(body)
}

func (s *sdkService) PauseSubscription(ctx context.Context, id string) (*SubscriptionEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := s.client.Subscription.Pause(id, map[string]interface{}{"pause_at": "now"}, nil)
	if err != nil {
		return nil, err
	}
	return toSubscription(body)
}

func (s *sdkService) ResumeSubscription(ctx context.Context, id string) (*SubscriptionEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := s.client.Subscription.Resume(id, map[string]interface{}{"resume_at": "now"}, nil)
	if err != nil {
		return nil, err
	}
	return toSubscription(body)
}

func (s *sdkService) CancelScheduledChanges(ctx context.Context, id string) (*SubscriptionEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := s.client.Subscription.CancelScheduledChanges(id, nil, nil)
	if err != nil {
		return nil, err
	}
	return toSubscription(body)
}

func (s *sdkService) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*CustomerEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"name": params.Name,
		// "0" returns the existing customer instead of failing on duplicates
		"fail_existing": "0",
	}
	if params.Email != "" {
		data["email"] = params.Email
	}
	if params.Contact != "" {
		data["contact"] = params.Contact
	}
	if len(params.Notes) > 0 {
		data["notes"] = params.Notes
	}
	body, err := s.client.Customer.Create(data, nil)
	if err != nil {
		return nil, err
	}
	var cust CustomerEntity
	if err := decodeEntity(body, &cust); err != nil {
		return nil, err
	}
	return &cust, nil
}

func toSubscription(body map[string]interface{}) (*SubscriptionEntity, error) {
	var sub SubscriptionEntity
	if err := decodeEntity(body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
