package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

const subscriptionColumns = `id, user_id, tier, status, setup_fee_paid,
	stripe_customer_id, stripe_subscription_id, monthly_price_cents,
	start_date, renewal_date, cancelled_at, created_at, updated_at`

// CreateIfAbsent inserts the subscription unless the user already has one.
// The unique index on user_id plus ON CONFLICT DO NOTHING closes the
// check-then-create race: two concurrent payment confirmations for the same
// user produce exactly one row. Returns whether this call created it.
func (r *SubscriptionRepository) CreateIfAbsent(ctx context.Context, sub *models.Subscription) (bool, error) {
	query := `
		INSERT INTO concierge.subscriptions (
			id, user_id, tier, status, setup_fee_paid,
			stripe_customer_id, stripe_subscription_id, monthly_price_cents,
			start_date, renewal_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.Tier, sub.Status, sub.SetupFeePaid,
		sub.StripeCustomerID, sub.StripeSubscriptionID, sub.MonthlyPriceCents,
		sub.StartDate, sub.RenewalDate,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByUserID returns the user's subscription.
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID int64) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM concierge.subscriptions
		WHERE user_id = $1
		LIMIT 1
	`
	return r.scanSubscription(r.pool.QueryRow(ctx, query, userID))
}

// UpdateStatus updates the subscription lifecycle status.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE concierge.subscriptions SET status = $1, updated_at = now() WHERE id = $2`
	if _, err := r.pool.Exec(ctx, query, status, id); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}

// Cancel marks the subscription cancelled. Rows are never hard-deleted.
func (r *SubscriptionRepository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE concierge.subscriptions
		SET status = 'cancelled', cancelled_at = now(), updated_at = now()
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// ReassignUser moves subscriptions from a temporary pre-auth user id to the
// real one. Idempotent.
func (r *SubscriptionRepository) ReassignUser(ctx context.Context, fromUserID, toUserID int64) error {
	query := `UPDATE concierge.subscriptions SET user_id = $1, updated_at = now() WHERE user_id = $2`
	if _, err := r.pool.Exec(ctx, query, toUserID, fromUserID); err != nil {
		return fmt.Errorf("reassign subscriptions: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) scanSubscription(row pgx.Row) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Tier, &sub.Status, &sub.SetupFeePaid,
		&sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.MonthlyPriceCents,
		&sub.StartDate, &sub.RenewalDate, &sub.CancelledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}
