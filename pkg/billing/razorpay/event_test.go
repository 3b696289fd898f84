package razorpay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

func TestParseEventKind(t *testing.T) {
	for k := EventAuthenticated; k <= EventCancelled; k++ {
		assert.Equal(t, k, ParseEventKind(k.String()), k.String())
	}
	assert.Equal(t, EventUnknown, ParseEventKind("payment.captured"))
	assert.Equal(t, EventUnknown, ParseEventKind(""))
	assert.Equal(t, "unknown", EventKind(99).String())
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"entity": "event",
		"account_id": "acc_1",
		"event": "subscription.charged",
		"contains": ["subscription", "payment"],
		"payload": {
			"subscription": {"entity": {
				"id": "sub_1", "plan_id": "plan_X", "customer_id": "cust_1", "status": "active",
				"current_start": 1700000000, "current_end": 1702592000,
				"quantity": 1, "total_count": 12, "paid_count": 2, "remaining_count": 10,
				"notes": {"referenceId": "user1", "seats": 3}
			}},
			"payment": {"entity": {"id": "pay_1", "amount": 49900, "currency": "INR", "status": "captured"}}
		},
		"created_at": 1700000100
	}`)

	ev, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, EventCharged, ev.Kind)

	sub := ev.Subscription()
	require.NotNil(t, sub)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, 2, sub.PaidCount)
	assert.Equal(t, "user1", sub.Notes[NoteReferenceID])
	assert.Equal(t, "3", sub.Notes["seats"])

	pay := ev.Payment()
	require.NotNil(t, pay)
	assert.Equal(t, int64(49900), pay.Amount)
}

func TestParseEvent_EmptyNotesArray(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"subscription.halted","payload":{"subscription":{"entity":{"id":"sub_1","notes":[]}}}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Subscription())
	assert.Empty(t, ev.Subscription().Notes)
}

func TestParseEvent_Invalid(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, billing.ErrInvalidPayload)

	_, err = ParseEvent([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, billing.ErrInvalidPayload)

	ev, err := ParseEvent([]byte(`{"event":"subscription.pending","payload":{}}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Subscription())
	assert.Nil(t, ev.Payment())
}
