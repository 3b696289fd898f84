// Package memory provides an in-memory implementation of billing.Storage.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

type row struct {
	sub *billing.Subscription
	seq uint64
}

// Storage implements billing.Storage using in-memory maps
type Storage struct {
	mu            sync.RWMutex
	subscriptions map[string]*row
	byProvider    map[string]string // provider subscription id -> local id
	seq           uint64

	customers      map[billing.CustomerType]map[string]string // reference -> customer id
	customerOwners map[billing.CustomerType]map[string]string // customer id -> reference
}

var _ billing.Storage = (*Storage)(nil)

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		subscriptions: make(map[string]*row),
		byProvider:    make(map[string]string),
		customers: map[billing.CustomerType]map[string]string{
			billing.CustomerTypeUser:         {},
			billing.CustomerTypeOrganization: {},
		},
		customerOwners: map[billing.CustomerType]map[string]string{
			billing.CustomerTypeUser:         {},
			billing.CustomerTypeOrganization: {},
		},
	}
}

// CreateSubscription implements billing.SubscriptionStore
func (s *Storage) CreateSubscription(_ context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; ok {
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}
	if owner, ok := s.byProvider[sub.ProviderSubscriptionID]; ok && sub.ProviderSubscriptionID != "" && owner != sub.ID {
		return billing.ErrDuplicateProviderSubscription
	}

	s.seq++
	s.subscriptions[sub.ID] = &row{sub: sub.Clone(), seq: s.seq}
	if sub.ProviderSubscriptionID != "" {
		s.byProvider[sub.ProviderSubscriptionID] = sub.ID
	}
	return nil
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.subscriptions[id]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	// Return a copy to prevent external mutations
	return r.sub.Clone(), nil
}

// FindByProviderSubscriptionID implements billing.SubscriptionStore
func (s *Storage) FindByProviderSubscriptionID(_ context.Context, providerID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProvider[providerID]
	if !ok || providerID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	return s.subscriptions[id].sub.Clone(), nil
}

// ListByReference implements billing.SubscriptionStore
func (s *Storage) ListByReference(_ context.Context, referenceID string) ([]*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*row
	for _, r := range s.subscriptions {
		if r.sub.ReferenceID == referenceID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].sub.CreatedAt.Equal(rows[j].sub.CreatedAt) {
			return rows[i].sub.CreatedAt.Before(rows[j].sub.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]*billing.Subscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.sub.Clone())
	}
	return out, nil
}

// UpdateSubscription implements billing.SubscriptionStore
func (s *Storage) UpdateSubscription(_ context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.subscriptions[sub.ID]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}
	if owner, ok := s.byProvider[sub.ProviderSubscriptionID]; ok && sub.ProviderSubscriptionID != "" && owner != sub.ID {
		return billing.ErrDuplicateProviderSubscription
	}

	if old := r.sub.ProviderSubscriptionID; old != "" && old != sub.ProviderSubscriptionID {
		delete(s.byProvider, old)
	}
	r.sub = sub.Clone()
	if sub.ProviderSubscriptionID != "" {
		s.byProvider[sub.ProviderSubscriptionID] = sub.ID
	}
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.subscriptions[id]
	if !ok {
		return nil
	}
	if r.sub.ProviderSubscriptionID != "" {
		delete(s.byProvider, r.sub.ProviderSubscriptionID)
	}
	delete(s.subscriptions, id)
	return nil
}

// UserByCustomerID implements billing.CustomerStore
func (s *Storage) UserByCustomerID(_ context.Context, customerID string) (string, error) {
	return s.owner(billing.CustomerTypeUser, customerID)
}

// OrganizationByCustomerID implements billing.CustomerStore
func (s *Storage) OrganizationByCustomerID(_ context.Context, customerID string) (string, error) {
	return s.owner(billing.CustomerTypeOrganization, customerID)
}

func (s *Storage) owner(kind billing.CustomerType, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.customerOwners[kind][customerID]
	if !ok || customerID == "" {
		return "", billing.ErrReferenceNotFound
	}
	return ref, nil
}

// CustomerID implements billing.CustomerStore
func (s *Storage) CustomerID(_ context.Context, kind billing.CustomerType, referenceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRef, ok := s.customers[kind]
	if !ok {
		return "", fmt.Errorf("unknown customer type %q", kind)
	}
	return byRef[referenceID], nil
}

// SetCustomerID implements billing.CustomerStore
func (s *Storage) SetCustomerID(_ context.Context, kind billing.CustomerType, referenceID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRef, ok := s.customers[kind]
	if !ok {
		return fmt.Errorf("unknown customer type %q", kind)
	}
	if old, ok := byRef[referenceID]; ok {
		delete(s.customerOwners[kind], old)
	}
	byRef[referenceID] = customerID
	s.customerOwners[kind][customerID] = referenceID
	return nil
}
