package razorpay

import (
	"context"
	"errors"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// Reference identifies a billed entity.
type Reference struct {
	Kind billing.CustomerType
	ID   string
}

// ResolveReference finds the entity a provider subscription belongs to:
// organization customers first (when organization billing is enabled), then
// user customers, then the reference stamped into notes on create.
// ok is false when nothing links the subscription to a local entity.
func (p *Provider) ResolveReference(ctx context.Context, customerID string, notes Notes) (ref Reference, ok bool, err error) {
	if customerID != "" {
		if p.config.Organization.Enabled {
			id, err := p.storage.OrganizationByCustomerID(ctx, customerID)
			switch {
			case err == nil:
				return Reference{Kind: billing.CustomerTypeOrganization, ID: id}, true, nil
			case !errors.Is(err, billing.ErrReferenceNotFound):
				return Reference{}, false, err
			}
		}
		id, err := p.storage.UserByCustomerID(ctx, customerID)
		switch {
		case err == nil:
			return Reference{Kind: billing.CustomerTypeUser, ID: id}, true, nil
		case !errors.Is(err, billing.ErrReferenceNotFound):
			return Reference{}, false, err
		}
	}

	refID := notes[NoteReferenceID]
	if refID == "" {
		return Reference{}, false, nil
	}
	kind := billing.CustomerType(notes[NoteCustomerType])
	switch kind {
	case billing.CustomerTypeOrganization:
		if !p.config.Organization.Enabled {
			return Reference{}, false, nil
		}
	default:
		kind = billing.CustomerTypeUser
	}
	return Reference{Kind: kind, ID: refID}, true, nil
}
