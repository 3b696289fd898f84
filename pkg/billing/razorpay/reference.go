package razorpay

import (
	"context"
	"errors"
	"strings"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// Action names the operation an AuthorizeReference hook is asked about.
type Action string

const (
	ActionUpgrade Action = "upgrade-subscription"
	ActionCancel  Action = "cancel-subscription"
	ActionRestore Action = "restore-subscription"
	ActionPause   Action = "pause-subscription"
	ActionResume  Action = "resume-subscription"
	ActionUpdate  Action = "update-subscription"
	ActionList    Action = "list-subscription"
)

// AuthorizeRequest is passed to Config.AuthorizeReference.
type AuthorizeRequest struct {
	User         billing.User
	Session      billing.Session
	ReferenceID  string
	CustomerType billing.CustomerType
	Action       Action
}

// ReferenceRequest selects the billed entity of an action. Both fields are
// optional; the caller's own user is the default.
type ReferenceRequest struct {
	ReferenceID  string               `json:"referenceId,omitempty"`
	CustomerType billing.CustomerType `json:"customerType,omitempty"`
}

// authorize resolves the reference an action targets and checks the caller
// may act on it. It runs before any remote call.
func (p *Provider) authorize(
	ctx context.Context, actor *billing.Actor, req ReferenceRequest, action Action,
) (Reference, error) {
	if actor == nil || actor.User.ID == "" {
		return Reference{}, billing.ErrUnauthorized
	}

	kind := billing.CustomerType(strings.ToLower(string(req.CustomerType)))
	refID := strings.TrimSpace(req.ReferenceID)

	switch kind {
	case "", billing.CustomerTypeUser:
		kind = billing.CustomerTypeUser
		if refID == "" {
			refID = actor.User.ID
		}
		if refID == actor.User.ID {
			return Reference{Kind: kind, ID: refID}, nil
		}
		if p.config.AuthorizeReference == nil {
			return Reference{}, billing.ErrReferenceNotAuthorized
		}
	case billing.CustomerTypeOrganization:
		if !p.config.Organization.Enabled {
			return Reference{}, billing.ErrInvalidRequest.Withf("organization billing is not enabled")
		}
		if p.config.AuthorizeReference == nil {
			return Reference{}, billing.ErrAuthorizeReferenceRequired
		}
		if refID == "" {
			refID = actor.Session.ActiveOrganizationID
		}
		if refID == "" {
			return Reference{}, billing.ErrInvalidRequest.Withf("referenceId is required for organization billing")
		}
	default:
		return Reference{}, billing.ErrInvalidRequest.Withf("unknown customer type %q", req.CustomerType)
	}

	ok, err := p.config.AuthorizeReference(ctx, AuthorizeRequest{
		User:         actor.User,
		Session:      actor.Session,
		ReferenceID:  refID,
		CustomerType: kind,
		Action:       action,
	})
	if err != nil {
		return Reference{}, billing.ErrReferenceNotAuthorized.Wrap(err)
	}
	if !ok {
		return Reference{}, billing.ErrReferenceNotAuthorized
	}
	return Reference{Kind: kind, ID: refID}, nil
}

// storageErr passes typed billing errors through and hides everything else
// behind ErrInternal.
func storageErr(err error) error {
	var be *billing.Error
	if errors.As(err, &be) {
		return err
	}
	return billing.ErrInternal.Wrap(err)
}
