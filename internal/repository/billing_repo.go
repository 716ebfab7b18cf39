package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

type BillingRepository struct {
	pool *pgxpool.Pool
}

func NewBillingRepository(pool *pgxpool.Pool) *BillingRepository {
	return &BillingRepository{pool: pool}
}

// Create appends a ledger entry. Billing records are never mutated except
// for status transitions.
func (r *BillingRepository) Create(ctx context.Context, rec *models.BillingRecord) error {
	query := `
		INSERT INTO concierge.billing_records (
			id, user_id, subscription_id, type, amount_cents, currency,
			stripe_charge_id, stripe_invoice_id, description, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.SubscriptionID, rec.Type, rec.AmountCents, rec.Currency,
		rec.StripeChargeID, rec.StripeInvoiceID, rec.Description, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("insert billing record: %w", err)
	}
	return nil
}

// GetByUserID returns all billing records for a user, newest first.
func (r *BillingRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.BillingRecord, error) {
	query := `
		SELECT id, user_id, subscription_id, type, amount_cents, currency,
		       stripe_charge_id, stripe_invoice_id, description, status, created_at
		FROM concierge.billing_records
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query billing records: %w", err)
	}
	defer rows.Close()

	var records []*models.BillingRecord
	for rows.Next() {
		rec := &models.BillingRecord{}
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.SubscriptionID, &rec.Type, &rec.AmountCents, &rec.Currency,
			&rec.StripeChargeID, &rec.StripeInvoiceID, &rec.Description, &rec.Status, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan billing record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateStatus transitions a billing record (pending -> completed/failed/refunded).
func (r *BillingRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE concierge.billing_records SET status = $1 WHERE id = $2`
	if _, err := r.pool.Exec(ctx, query, status, id); err != nil {
		return fmt.Errorf("update billing status: %w", err)
	}
	return nil
}

// ReassignUser moves billing records from a temporary pre-auth user id to
// the real one. Idempotent.
func (r *BillingRepository) ReassignUser(ctx context.Context, fromUserID, toUserID int64) error {
	query := `UPDATE concierge.billing_records SET user_id = $1 WHERE user_id = $2`
	if _, err := r.pool.Exec(ctx, query, toUserID, fromUserID); err != nil {
		return fmt.Errorf("reassign billing records: %w", err)
	}
	return nil
}
