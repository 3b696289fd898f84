package billing

import "context"

// SubscriptionStore persists subscription rows. Implementations provide per-row
// read/write only; no cross-row transactions are assumed.
type SubscriptionStore interface {
	// CreateSubscription inserts a new row. It returns ErrDuplicateProviderSubscription
	// when ProviderSubscriptionID is set and already owned by another row.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns the row with the given local id or ErrSubscriptionNotFound.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)

	// FindByProviderSubscriptionID returns the row joined to a provider subscription
	// or ErrSubscriptionNotFound.
	FindByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// ListByReference returns every row billed to referenceID, oldest first.
	ListByReference(ctx context.Context, referenceID string) ([]*Subscription, error)

	// UpdateSubscription overwrites the row identified by sub.ID. Returns
	// ErrDuplicateProviderSubscription when the provider id collides with another row.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a row. Used only to roll back a failed create.
	DeleteSubscription(ctx context.Context, id string) error
}

// CustomerStore reads and writes the provider customer id stamped onto
// host-owned user and organization entities.
type CustomerStore interface {
	// UserByCustomerID returns the user id linked to a provider customer id
	// or ErrReferenceNotFound.
	UserByCustomerID(ctx context.Context, customerID string) (string, error)

	// OrganizationByCustomerID returns the organization id linked to a provider
	// customer id or ErrReferenceNotFound.
	OrganizationByCustomerID(ctx context.Context, customerID string) (string, error)

	// CustomerID returns the provider customer id stored for a reference,
	// or an empty string when none is linked yet.
	CustomerID(ctx context.Context, kind CustomerType, referenceID string) (string, error)

	// SetCustomerID links a provider customer id to a reference.
	SetCustomerID(ctx context.Context, kind CustomerType, referenceID, customerID string) error
}

// Storage is the persistence capability handed to providers by the host.
type Storage interface {
	SubscriptionStore
	CustomerStore
}
