// Package postgres provides a PostgreSQL implementation of billing.Storage.
// provider_subscription_id carries a UNIQUE constraint so concurrent webhook
// deliveries for the same remote subscription cannot create two rows.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Storage implements billing.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

var _ billing.Storage = (*Storage)(nil)

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies the schema on New
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}
	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the billing tables if they do not exist.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const selectColumns = `id, reference_id, customer_type, plan, provider_customer_id,
	COALESCE(provider_subscription_id, ''), provider_plan_id, status,
	current_period_start, current_period_end, ended_at, cancelled_at, paused_at,
	quantity, total_count, paid_count, remaining_count, cancel_at_cycle_end,
	group_id, short_url, created_at, updated_at`

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	var customerType, status string
	err := row.Scan(
		&sub.ID,
		&sub.ReferenceID,
		&customerType,
		&sub.Plan,
		&sub.ProviderCustomerID,
		&sub.ProviderSubscriptionID,
		&sub.ProviderPlanID,
		&status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.EndedAt,
		&sub.CancelledAt,
		&sub.PausedAt,
		&sub.Quantity,
		&sub.TotalCount,
		&sub.PaidCount,
		&sub.RemainingCount,
		&sub.CancelAtCycleEnd,
		&sub.GroupID,
		&sub.ShortURL,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.CustomerType = billing.CustomerType(customerType)
	sub.Status = billing.Status(status)
	return &sub, nil
}

// nullable maps the empty provider id to NULL so the UNIQUE constraint
// only applies to linked rows.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateSubscription implements billing.SubscriptionStore
func (s *Storage) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_subscriptions (
				id, reference_id, customer_type, plan, provider_customer_id,
				provider_subscription_id, provider_plan_id, status,
				current_period_start, current_period_end, ended_at, cancelled_at, paused_at,
				quantity, total_count, paid_count, remaining_count, cancel_at_cycle_end,
				group_id, short_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		sub.ID, sub.ReferenceID, string(sub.CustomerType), sub.Plan, sub.ProviderCustomerID,
		nullable(sub.ProviderSubscriptionID), sub.ProviderPlanID, string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.EndedAt, sub.CancelledAt, sub.PausedAt,
		sub.Quantity, sub.TotalCount, sub.PaidCount, sub.RemainingCount, sub.CancelAtCycleEnd,
		sub.GroupID, sub.ShortURL, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName != "billing_subscriptions_pkey" {
			return billing.ErrDuplicateProviderSubscription
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM billing_subscriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// FindByProviderSubscriptionID implements billing.SubscriptionStore
func (s *Storage) FindByProviderSubscriptionID(ctx context.Context, providerID string) (*billing.Subscription, error) {
	if providerID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM billing_subscriptions WHERE provider_subscription_id = $1`, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// ListByReference implements billing.SubscriptionStore
func (s *Storage) ListByReference(ctx context.Context, referenceID string) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM billing_subscriptions
			WHERE reference_id = $1 ORDER BY created_at, seq`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	out := []*billing.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}

// UpdateSubscription implements billing.SubscriptionStore
func (s *Storage) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE billing_subscriptions SET
				reference_id = $2, customer_type = $3, plan = $4, provider_customer_id = $5,
				provider_subscription_id = $6, provider_plan_id = $7, status = $8,
				current_period_start = $9, current_period_end = $10, ended_at = $11,
				cancelled_at = $12, paused_at = $13, quantity = $14, total_count = $15,
				paid_count = $16, remaining_count = $17, cancel_at_cycle_end = $18,
				group_id = $19, short_url = $20, updated_at = $21
			WHERE id = $1`,
		sub.ID, sub.ReferenceID, string(sub.CustomerType), sub.Plan, sub.ProviderCustomerID,
		nullable(sub.ProviderSubscriptionID), sub.ProviderPlanID, string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.EndedAt,
		sub.CancelledAt, sub.PausedAt, sub.Quantity, sub.TotalCount,
		sub.PaidCount, sub.RemainingCount, sub.CancelAtCycleEnd,
		sub.GroupID, sub.ShortURL, sub.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return billing.ErrDuplicateProviderSubscription
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM billing_subscriptions WHERE id = $1`, id); err != nil {
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
	var ref string
	err := s.pool.QueryRow(ctx,
		`SELECT reference_id FROM billing_customers WHERE kind = $1 AND customer_id = $2`,
		string(kind), customerID).Scan(&ref)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", billing.ErrReferenceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	return ref, nil
}

// CustomerID implements billing.CustomerStore
func (s *Storage) CustomerID(ctx context.Context, kind billing.CustomerType, referenceID string) (string, error) {
	var customerID string
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id FROM billing_customers WHERE kind = $1 AND reference_id = $2`,
		string(kind), referenceID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer id: %w", err)
	}
	return customerID, nil
}

// SetCustomerID implements billing.CustomerStore
func (s *Storage) SetCustomerID(ctx context.Context, kind billing.CustomerType, referenceID, customerID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_customers (kind, reference_id, customer_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (kind, reference_id) DO UPDATE SET customer_id = EXCLUDED.customer_id`,
		string(kind), referenceID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return nil
}
