// Package firestore provides a Firestore implementation of billing.Storage.
// Provider subscription ids are claimed through an index collection inside
// the same transaction that writes the row.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// Storage implements billing.Storage using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	subscriptionsCollection string
	providerIndexCollection string
	customersCollection     string
}

var _ billing.Storage = (*Storage)(nil)

// Config holds Firestore storage configuration
type Config struct {
	// SubscriptionsCollection holds one document per subscription row
	// Default: "billing_subscriptions"
	SubscriptionsCollection string

	// ProviderIndexCollection maps provider subscription ids to row ids
	// Default: "billing_provider_subscriptions"
	ProviderIndexCollection string

	// CustomersCollection links references and provider customer ids
	// Default: "billing_customers"
	CustomersCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.ProviderIndexCollection == "" {
		config.ProviderIndexCollection = "billing_provider_subscriptions"
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "billing_customers"
	}

	return &Storage{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
		providerIndexCollection: config.ProviderIndexCollection,
		customersCollection:     config.CustomersCollection,
	}, nil
}

func (s *Storage) subscriptionDoc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.subscriptionsCollection).Doc(id)
}

func (s *Storage) providerDoc(providerID string) *firestore.DocumentRef {
	return s.client.Collection(s.providerIndexCollection).Doc(providerID)
}

// customerDoc is keyed by reference; ownerDoc by provider customer id.
func (s *Storage) customerDoc(kind billing.CustomerType, referenceID string) *firestore.DocumentRef {
	return s.client.Collection(s.customersCollection).Doc("ref_" + string(kind) + "_" + referenceID)
}

func (s *Storage) ownerDoc(kind billing.CustomerType, customerID string) *firestore.DocumentRef {
	return s.client.Collection(s.customersCollection).Doc("cus_" + string(kind) + "_" + customerID)
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// CreateSubscription implements billing.SubscriptionStore
func (s *Storage) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if sub.ProviderSubscriptionID != "" {
			if err := s.claimProvider(tx, sub.ProviderSubscriptionID, sub.ID); err != nil {
				return err
			}
		}
		return tx.Create(s.subscriptionDoc(sub.ID), toData(sub))
	})
	if errors.Is(err, billing.ErrDuplicateProviderSubscription) {
		return err
	}
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// claimProvider links providerID to id inside tx, failing when another row owns it.
func (s *Storage) claimProvider(tx *firestore.Transaction, providerID, id string) error {
	ref := s.providerDoc(providerID)
	snap, err := tx.Get(ref)
	if err != nil && !notFound(err) {
		return err
	}
	if err == nil && snap.Exists() {
		if owner := getString(snap.Data(), "subscriptionId"); owner != "" && owner != id {
			return billing.ErrDuplicateProviderSubscription
		}
	}
	return tx.Set(ref, map[string]interface{}{"subscriptionId": id})
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	snap, err := s.subscriptionDoc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, billing.ErrSubscriptionNotFound
	}
	return fromData(snap.Ref.ID, snap.Data()), nil
}

// FindByProviderSubscriptionID implements billing.SubscriptionStore
func (s *Storage) FindByProviderSubscriptionID(ctx context.Context, providerID string) (*billing.Subscription, error) {
	if providerID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	snap, err := s.providerDoc(providerID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	id := getString(snap.Data(), "subscriptionId")
	if id == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	return s.GetSubscription(ctx, id)
}

// ListByReference implements billing.SubscriptionStore
// Rows created at the same instant are ordered by id.
func (s *Storage) ListByReference(ctx context.Context, referenceID string) ([]*billing.Subscription, error) {
	iter := s.client.Collection(s.subscriptionsCollection).
		Where("referenceId", "==", referenceID).
		Documents(ctx)
	defer iter.Stop()

	out := []*billing.Subscription{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		out = append(out, fromData(snap.Ref.ID, snap.Data()))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateSubscription implements billing.SubscriptionStore
func (s *Storage) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.subscriptionDoc(sub.ID)
		snap, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				return billing.ErrSubscriptionNotFound
			}
			return err
		}
		oldProvider := getString(snap.Data(), "providerSubscriptionId")

		if sub.ProviderSubscriptionID != "" && sub.ProviderSubscriptionID != oldProvider {
			if err := s.claimProvider(tx, sub.ProviderSubscriptionID, sub.ID); err != nil {
				return err
			}
		}
		if oldProvider != "" && oldProvider != sub.ProviderSubscriptionID {
			if err := tx.Delete(s.providerDoc(oldProvider)); err != nil {
				return err
			}
		}
		return tx.Set(ref, toData(sub))
	})

	var be *billing.Error
	if errors.As(err, &be) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(ctx context.Context, id string) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.subscriptionDoc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				return nil
			}
			return err
		}
		if provider := getString(snap.Data(), "providerSubscriptionId"); provider != "" {
			if err := tx.Delete(s.providerDoc(provider)); err != nil {
				return err
			}
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// UserByCustomerID implements billing.CustomerStore
func (s *Storage) UserByCustomerID(ctx context.Context, customerID string) (string, error) {
	return s.owner(ctx, billing.CustomerTypeUser, customerID)
}

// OrganizationByCustomerID implements billing.CustomerStore
func (s *Storage) OrganizationByCustomerID(ctx context.Context, customerID string) (string, error) {
	return s.owner(ctx, billing.CustomerTypeOrganization, customerID)
}

func (s *Storage) owner(ctx context.Context, kind billing.CustomerType, customerID string) (string, error) {
	if customerID == "" {
		return "", billing.ErrReferenceNotFound
	}
	snap, err := s.ownerDoc(kind, customerID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return "", billing.ErrReferenceNotFound
		}
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	ref := getString(snap.Data(), "referenceId")
	if ref == "" {
		return "", billing.ErrReferenceNotFound
	}
	return ref, nil
}

// CustomerID implements billing.CustomerStore
func (s *Storage) CustomerID(ctx context.Context, kind billing.CustomerType, referenceID string) (string, error) {
	snap, err := s.customerDoc(kind, referenceID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get customer id: %w", err)
	}
	return getString(snap.Data(), "customerId"), nil
}

// SetCustomerID implements billing.CustomerStore
func (s *Storage) SetCustomerID(ctx context.Context, kind billing.CustomerType, referenceID, customerID string) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.customerDoc(kind, referenceID)
		snap, err := tx.Get(ref)
		if err != nil && !notFound(err) {
			return err
		}
		if err == nil {
			if old := getString(snap.Data(), "customerId"); old != "" && old != customerID {
				if err := tx.Delete(s.ownerDoc(kind, old)); err != nil {
					return err
				}
			}
		}
		if err := tx.Set(ref, map[string]interface{}{"customerId": customerID}); err != nil {
			return err
		}
		return tx.Set(s.ownerDoc(kind, customerID), map[string]interface{}{"referenceId": referenceID})
	})
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return nil
}

func toData(sub *billing.Subscription) map[string]interface{} {
	return map[string]interface{}{
		"referenceId":            sub.ReferenceID,
		"customerType":           string(sub.CustomerType),
		"plan":                   sub.Plan,
		"providerCustomerId":     sub.ProviderCustomerID,
		"providerSubscriptionId": sub.ProviderSubscriptionID,
		"providerPlanId":         sub.ProviderPlanID,
		"status":                 string(sub.Status),
		"currentPeriodStart":     optionalTime(sub.CurrentPeriodStart),
		"currentPeriodEnd":       optionalTime(sub.CurrentPeriodEnd),
		"endedAt":                optionalTime(sub.EndedAt),
		"cancelledAt":            optionalTime(sub.CancelledAt),
		"pausedAt":               optionalTime(sub.PausedAt),
		"quantity":               sub.Quantity,
		"totalCount":             sub.TotalCount,
		"paidCount":              sub.PaidCount,
		"remainingCount":         sub.RemainingCount,
		"cancelAtCycleEnd":       sub.CancelAtCycleEnd,
		"groupId":                sub.GroupID,
		"shortUrl":               sub.ShortURL,
		"createdAt":              sub.CreatedAt,
		"updatedAt":              sub.UpdatedAt,
	}
}

func fromData(id string, data map[string]interface{}) *billing.Subscription {
	cancelAtCycleEnd, _ := data["cancelAtCycleEnd"].(bool)
	return &billing.Subscription{
		ID:                     id,
		ReferenceID:            getString(data, "referenceId"),
		CustomerType:           billing.CustomerType(getString(data, "customerType")),
		Plan:                   getString(data, "plan"),
		ProviderCustomerID:     getString(data, "providerCustomerId"),
		ProviderSubscriptionID: getString(data, "providerSubscriptionId"),
		ProviderPlanID:         getString(data, "providerPlanId"),
		Status:                 billing.Status(getString(data, "status")),
		CurrentPeriodStart:     getOptionalTime(data, "currentPeriodStart"),
		CurrentPeriodEnd:       getOptionalTime(data, "currentPeriodEnd"),
		EndedAt:                getOptionalTime(data, "endedAt"),
		CancelledAt:            getOptionalTime(data, "cancelledAt"),
		PausedAt:               getOptionalTime(data, "pausedAt"),
		Quantity:               getInt(data, "quantity"),
		TotalCount:             getInt(data, "totalCount"),
		PaidCount:              getInt(data, "paidCount"),
		RemainingCount:         getInt(data, "remainingCount"),
		CancelAtCycleEnd:       cancelAtCycleEnd,
		GroupID:                getString(data, "groupId"),
		ShortURL:               getString(data, "shortUrl"),
		CreatedAt:              getTime(data, "createdAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
}

// optionalTime stores nil as a Firestore null.
func optionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getOptionalTime(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok {
		return &v
	}
	return nil
}
