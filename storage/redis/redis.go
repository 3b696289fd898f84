// Package redis provides a Redis implementation of billing.Storage.
// Creates run as a Lua script so the provider-id uniqueness check and the
// write happen atomically; updates use WATCH with bounded retries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// Storage implements billing.Storage using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

var _ billing.Storage = (*Storage)(nil)

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "rzpsub:")
	KeyPrefix string

	// MaxRetries is the maximum number of optimistic update attempts (default: 3)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "rzpsub:",
		MaxRetries: 3,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "rzpsub:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// KEYS: subscription hash, provider index, reference set, sequence counter
	// ARGV: id, data, provider id, reference id
	s.scripts["create"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 'exists'
		end
		if ARGV[3] ~= '' then
			local owner = redis.call('GET', KEYS[2])
			if owner and owner ~= ARGV[1] then
				return 'duplicate'
			end
		end
		local seq = redis.call('INCR', KEYS[4])
		redis.call('HSET', KEYS[1], 'data', ARGV[2], 'seq', seq, 'provider', ARGV[3], 'reference', ARGV[4])
		if ARGV[3] ~= '' then
			redis.call('SET', KEYS[2], ARGV[1])
		end
		redis.call('SADD', KEYS[3], ARGV[1])
		return 'ok'
	`)
}

// Key helpers

func (s *Storage) subscriptionKey(id string) string {
	return s.config.KeyPrefix + "sub:" + id
}

func (s *Storage) providerKey(providerID string) string {
	return s.config.KeyPrefix + "provider:" + providerID
}

func (s *Storage) referenceKey(referenceID string) string {
	return s.config.KeyPrefix + "ref:" + referenceID
}

func (s *Storage) seqKey() string {
	return s.config.KeyPrefix + "seq"
}

func (s *Storage) customerKey(kind billing.CustomerType, referenceID string) string {
	return s.config.KeyPrefix + "customer:" + string(kind) + ":" + referenceID
}

func (s *Storage) customerOwnerKey(kind billing.CustomerType, customerID string) string {
	return s.config.KeyPrefix + "customer_owner:" + string(kind) + ":" + customerID
}

// CreateSubscription implements billing.SubscriptionStore
func (s *Storage) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	keys := []string{
		s.subscriptionKey(sub.ID),
		s.providerKey(sub.ProviderSubscriptionID),
		s.referenceKey(sub.ReferenceID),
		s.seqKey(),
	}
	res, err := s.scripts["create"].Run(ctx, s.client, keys,
		sub.ID, string(data), sub.ProviderSubscriptionID, sub.ReferenceID).Text()
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	switch res {
	case "ok":
		return nil
	case "duplicate":
		return billing.ErrDuplicateProviderSubscription
	default:
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	data, err := s.client.HGet(ctx, s.subscriptionKey(id), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return decode(data)
}

// FindByProviderSubscriptionID implements billing.SubscriptionStore
func (s *Storage) FindByProviderSubscriptionID(ctx context.Context, providerID string) (*billing.Subscription, error) {
	if providerID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	id, err := s.client.Get(ctx, s.providerKey(providerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return s.GetSubscription(ctx, id)
}

type listed struct {
	sub *billing.Subscription
	seq int64
}

// ListByReference implements billing.SubscriptionStore
func (s *Storage) ListByReference(ctx context.Context, referenceID string) ([]*billing.Subscription, error) {
	ids, err := s.client.SMembers(ctx, s.referenceKey(referenceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.subscriptionKey(id), "data", "seq")
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
	}

	rows := make([]listed, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 2 || vals[0] == nil {
			continue // removed after SMEMBERS
		}
		sub, err := decode(vals[0].(string))
		if err != nil {
			return nil, err
		}
		seq, _ := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		rows = append(rows, listed{sub: sub, seq: seq})
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].sub.CreatedAt.Equal(rows[j].sub.CreatedAt) {
			return rows[i].sub.CreatedAt.Before(rows[j].sub.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]*billing.Subscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.sub)
	}
	return out, nil
}

// UpdateSubscription implements billing.SubscriptionStore
func (s *Storage) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	subKey := s.subscriptionKey(sub.ID)
	newProvider := sub.ProviderSubscriptionID
	watched := []string{subKey}
	if newProvider != "" {
		watched = append(watched, s.providerKey(newProvider))
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, subKey, "provider", "reference").Result()
		if err != nil {
			return err
		}
		if current[0] == nil && current[1] == nil {
			return billing.ErrSubscriptionNotFound
		}
		oldProvider, _ := current[0].(string)
		oldReference, _ := current[1].(string)

		if newProvider != "" {
			owner, err := tx.Get(ctx, s.providerKey(newProvider)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if owner != "" && owner != sub.ID {
				return billing.ErrDuplicateProviderSubscription
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, subKey, "data", string(data), "provider", newProvider, "reference", sub.ReferenceID)
			if oldProvider != "" && oldProvider != newProvider {
				pipe.Del(ctx, s.providerKey(oldProvider))
			}
			if newProvider != "" {
				pipe.Set(ctx, s.providerKey(newProvider), sub.ID, 0)
			}
			if oldReference != sub.ReferenceID {
				pipe.SRem(ctx, s.referenceKey(oldReference), sub.ID)
				pipe.SAdd(ctx, s.referenceKey(sub.ReferenceID), sub.ID)
			}
			return nil
		})
		return err
	}

	for i := 0; i < s.config.MaxRetries; i++ {
		err = s.client.Watch(ctx, txf, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err == nil {
		return nil
	}
	var be *billing.Error
	if errors.As(err, &be) {
		return err
	}
	return fmt.Errorf("failed to update subscription: %w", err)
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(ctx context.Context, id string) error {
	subKey := s.subscriptionKey(id)
	current, err := s.client.HMGet(ctx, subKey, "provider", "reference").Result()
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if current[0] == nil && current[1] == nil {
		return nil
	}
	provider, _ := current[0].(string)
	reference, _ := current[1].(string)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, subKey)
		if provider != "" {
			pipe.Del(ctx, s.providerKey(provider))
		}
		pipe.SRem(ctx, s.referenceKey(reference), id)
		return nil
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
	ref, err := s.client.Get(ctx, s.customerOwnerKey(kind, customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", billing.ErrReferenceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	return ref, nil
}

// CustomerID implements billing.CustomerStore
func (s *Storage) CustomerID(ctx context.Context, kind billing.CustomerType, referenceID string) (string, error) {
	id, err := s.client.Get(ctx, s.customerKey(kind, referenceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer id: %w", err)
	}
	return id, nil
}

// SetCustomerID implements billing.CustomerStore
func (s *Storage) SetCustomerID(ctx context.Context, kind billing.CustomerType, referenceID, customerID string) error {
	key := s.customerKey(kind, referenceID)
	old, err := s.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to set customer id: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if old != "" && old != customerID {
			pipe.Del(ctx, s.customerOwnerKey(kind, old))
		}
		pipe.Set(ctx, key, customerID, 0)
		pipe.Set(ctx, s.customerOwnerKey(kind, customerID), referenceID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decode(data string) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &sub, nil
}
