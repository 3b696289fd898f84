package razorpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Note keys stamped into the provider's free-form notes at create time.
const (
	NoteReferenceID    = "referenceId"
	NoteSubscriptionID = "subscriptionId"
	NoteCustomerType   = "customerType"
	NotePlan           = "plan"
)

// Notes is the provider's free-form key/value field. The provider encodes an
// empty notes object as an empty JSON array, and values may be non-strings.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] == '[' {
		*n = Notes{}
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("notes: %w", err)
	}
	out := make(Notes, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*n = out
	return nil
}

// SubscriptionEntity is the provider's subscription object. Timestamps are
// epoch seconds; zero means absent.
type SubscriptionEntity struct {
	ID                  string `json:"id"`
	Entity              string `json:"entity,omitempty"`
	PlanID              string `json:"plan_id"`
	CustomerID          string `json:"customer_id,omitempty"`
	Status              string `json:"status"`
	CurrentStart        int64  `json:"current_start,omitempty"`
	CurrentEnd          int64  `json:"current_end,omitempty"`
	EndedAt             int64  `json:"ended_at,omitempty"`
	PausedAt            int64  `json:"paused_at,omitempty"`
	ChargeAt            int64  `json:"charge_at,omitempty"`
	StartAt             int64  `json:"start_at,omitempty"`
	EndAt               int64  `json:"end_at,omitempty"`
	Quantity            int    `json:"quantity"`
	TotalCount          int    `json:"total_count"`
	PaidCount           int    `json:"paid_count"`
	RemainingCount      int    `json:"remaining_count"`
	ShortURL            string `json:"short_url,omitempty"`
	HasScheduledChanges bool   `json:"has_scheduled_changes,omitempty"`
	ChangeScheduledAt   int64  `json:"change_scheduled_at,omitempty"`
	CancelAtCycleEnd    *bool  `json:"cancel_at_cycle_end,omitempty"`
	OfferID             string `json:"offer_id,omitempty"`
	Notes               Notes  `json:"notes,omitempty"`
	CreatedAt           int64  `json:"created_at,omitempty"`
}

// CustomerEntity is the provider's customer object.
type CustomerEntity struct {
	ID        string `json:"id"`
	Entity    string `json:"entity,omitempty"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Contact   string `json:"contact,omitempty"`
	Notes     Notes  `json:"notes,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// decodeEntity converts the SDK's generic map response into a typed entity.
func decodeEntity(m map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode provider response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
