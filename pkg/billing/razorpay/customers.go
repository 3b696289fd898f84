package razorpay

import (
	"context"
	"fmt"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// CustomerDetails describes a provider customer to create.
type CustomerDetails struct {
	Name    string
	Email   string
	Contact string
}

// EnsureCustomer returns the provider customer linked to ref, creating and
// linking one when none exists yet.
func (p *Provider) EnsureCustomer(ctx context.Context, ref Reference, details CustomerDetails) (string, error) {
	id, err := p.storage.CustomerID(ctx, ref.Kind, ref.ID)
	if err != nil {
		return "", storageErr(err)
	}
	if id != "" {
		return id, nil
	}

	name := details.Name
	if name == "" {
		name = details.Email
	}
	if name == "" {
		name = ref.ID
	}
	cust, err := p.service.CreateCustomer(ctx, CreateCustomerParams{
		Name:    name,
		Email:   details.Email,
		Contact: details.Contact,
		Notes: map[string]string{
			NoteReferenceID:  ref.ID,
			NoteCustomerType: string(ref.Kind),
		},
	})
	if err != nil {
		p.logger.Error("razorpay customer create failed",
			billing.F("reference_id", ref.ID),
			billing.F("customer_type", string(ref.Kind)),
			billing.F("error", err))
		return "", billing.ErrCustomerFailed.Wrap(err)
	}
	if err := p.storage.SetCustomerID(ctx, ref.Kind, ref.ID, cust.ID); err != nil {
		return "", storageErr(err)
	}

	p.logger.Info("razorpay customer created",
		billing.F("reference_id", ref.ID),
		billing.F("customer_id", cust.ID))
	p.notifyCustomer(ctx, CustomerEvent{Kind: ref.Kind, ReferenceID: ref.ID, Customer: cust})
	return cust.ID, nil
}

// OnUserCreated is the host's sign-up hook. It provisions a customer when
// CreateCustomerOnSignUp is set. Failures are logged and returned; callers
// usually should not fail the sign-up on them.
func (p *Provider) OnUserCreated(ctx context.Context, user billing.User) error {
	if !p.config.CreateCustomerOnSignUp {
		return nil
	}
	_, err := p.EnsureCustomer(ctx, Reference{Kind: billing.CustomerTypeUser, ID: user.ID}, CustomerDetails{
		Name:  user.Name,
		Email: user.Email,
	})
	if err != nil {
		p.logger.Warn("failed to provision customer on sign-up",
			billing.F("user_id", user.ID),
			billing.F("error", err))
	}
	return err
}

func (p *Provider) ensureCustomerFor(ctx context.Context, ref Reference, actor *billing.Actor) (string, error) {
	details := CustomerDetails{}
	switch ref.Kind {
	case billing.CustomerTypeOrganization:
		if describe := p.config.Organization.Describe; describe != nil {
			info, err := describe(ctx, ref.ID)
			if err != nil {
				return "", billing.ErrReferenceNotFound.Wrap(err)
			}
			details.Name, details.Email = info.Name, info.Email
		}
	default:
		if ref.ID == actor.User.ID {
			details.Name, details.Email = actor.User.Name, actor.User.Email
		}
	}
	return p.EnsureCustomer(ctx, ref, details)
}

func (p *Provider) notifyCustomer(ctx context.Context, ev CustomerEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("customer callback panicked",
				billing.F("reference_id", ev.ReferenceID),
				billing.F("error", fmt.Errorf("panic: %v", rec)))
			p.metrics.RecordCallbackError(providerName, "customer_created")
		}
	}()
	if err := p.callbacks.OnCustomerCreated(ctx, ev); err != nil {
		p.logger.Error("customer callback failed",
			billing.F("reference_id", ev.ReferenceID),
			billing.F("error", err))
		p.metrics.RecordCallbackError(providerName, "customer_created")
	}
}
