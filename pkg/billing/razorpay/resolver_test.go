package razorpay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

func TestResolveReference(t *testing.T) {
	h := newHarness(t, withOrganizations(1))
	ctx := context.Background()
	require.NoError(t, h.store.SetCustomerID(ctx, billing.CustomerTypeUser, "user1", "cust_u"))
	require.NoError(t, h.store.SetCustomerID(ctx, billing.CustomerTypeOrganization, "org1", "cust_o"))

	tests := []struct {
		name       string
		customerID string
		notes      Notes
		want       Reference
		wantOK     bool
	}{
		{"organization customer", "cust_o", nil, Reference{billing.CustomerTypeOrganization, "org1"}, true},
		{"user customer", "cust_u", nil, Reference{billing.CustomerTypeUser, "user1"}, true},
		{"customer wins over notes", "cust_u", Notes{NoteReferenceID: "user9"}, Reference{billing.CustomerTypeUser, "user1"}, true},
		{"notes fallback", "cust_x", Notes{NoteReferenceID: "user9"}, Reference{billing.CustomerTypeUser, "user9"}, true},
		{"organization notes", "", Notes{NoteReferenceID: "org7", NoteCustomerType: "organization"}, Reference{billing.CustomerTypeOrganization, "org7"}, true},
		{"nothing links", "cust_x", nil, Reference{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok, err := h.provider.ResolveReference(ctx, tt.customerID, tt.notes)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestResolveReference_OrganizationsDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetCustomerID(ctx, billing.CustomerTypeOrganization, "org1", "cust_o"))

	_, ok, err := h.provider.ResolveReference(ctx, "cust_o", Notes{NoteReferenceID: "org1", NoteCustomerType: "organization"})
	require.NoError(t, err)
	assert.False(t, ok)
}
