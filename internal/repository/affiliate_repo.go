package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

type AffiliateRepository struct {
	pool *pgxpool.Pool
}

func NewAffiliateRepository(pool *pgxpool.Pool) *AffiliateRepository {
	return &AffiliateRepository{pool: pool}
}

const affiliateColumns = `id, user_id, code, status, commission_rate,
	total_earnings_cents, pending_earnings_cents, paid_earnings_cents,
	paypal_email, created_at, updated_at`

// Create inserts a new affiliate account. The unique index on user_id
// rejects a second account for the same user.
func (r *AffiliateRepository) Create(ctx context.Context, aff *models.Affiliate) error {
	query := `
		INSERT INTO concierge.affiliates (id, user_id, code, status, commission_rate)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, aff.ID, aff.UserID, aff.Code, aff.Status, aff.CommissionRate)
	if err != nil {
		return fmt.Errorf("insert affiliate: %w", err)
	}
	return nil
}

// GetByUserID returns the affiliate account owned by a user.
func (r *AffiliateRepository) GetByUserID(ctx context.Context, userID int64) (*models.Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM concierge.affiliates WHERE user_id = $1`
	return r.scanAffiliate(r.pool.QueryRow(ctx, query, userID))
}

// GetByID returns an affiliate by row id.
func (r *AffiliateRepository) GetByID(ctx context.Context, id string) (*models.Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM concierge.affiliates WHERE id = $1`
	return r.scanAffiliate(r.pool.QueryRow(ctx, query, id))
}

// GetByCode returns an affiliate by referral code.
func (r *AffiliateRepository) GetByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM concierge.affiliates WHERE code = $1`
	return r.scanAffiliate(r.pool.QueryRow(ctx, query, code))
}

// IncrementEarnings bumps the running totals with a single atomic SQL
// increment rather than read-modify-write in application code.
func (r *AffiliateRepository) IncrementEarnings(ctx context.Context, affiliateID string, amountCents int64) error {
	query := `
		UPDATE concierge.affiliates
		SET total_earnings_cents = total_earnings_cents + $1,
		    pending_earnings_cents = pending_earnings_cents + $1,
		    updated_at = now()
		WHERE id = $2
	`
	if _, err := r.pool.Exec(ctx, query, amountCents, affiliateID); err != nil {
		return fmt.Errorf("increment earnings: %w", err)
	}
	return nil
}

// CreateReferral records a referral click for an affiliate code.
func (r *AffiliateRepository) CreateReferral(ctx context.Context, ref *models.Referral) error {
	query := `
		INSERT INTO concierge.referrals (id, affiliate_id, referred_user_id, referred_email, status, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		ref.ID, ref.AffiliateID, ref.ReferredUserID, ref.ReferredEmail, ref.Status, ref.IPAddress)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

// GetReferralByReferredUser returns the referral that brought in a user.
func (r *AffiliateRepository) GetReferralByReferredUser(ctx context.Context, userID int64) (*models.Referral, error) {
	query := `
		SELECT id, affiliate_id, referred_user_id, referred_email, status,
		       subscription_id, clicked_at, signed_up_at, subscribed_at, ip_address, created_at
		FROM concierge.referrals
		WHERE referred_user_id = $1
		ORDER BY clicked_at DESC
		LIMIT 1
	`
	ref := &models.Referral{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&ref.ID, &ref.AffiliateID, &ref.ReferredUserID, &ref.ReferredEmail, &ref.Status,
		&ref.SubscriptionID, &ref.ClickedAt, &ref.SignedUpAt, &ref.SubscribedAt, &ref.IPAddress, &ref.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan referral: %w", err)
	}
	return ref, nil
}

// ListReferrals returns all referrals for an affiliate.
func (r *AffiliateRepository) ListReferrals(ctx context.Context, affiliateID string) ([]*models.Referral, error) {
	query := `
		SELECT id, affiliate_id, referred_user_id, referred_email, status,
		       subscription_id, clicked_at, signed_up_at, subscribed_at, ip_address, created_at
		FROM concierge.referrals
		WHERE affiliate_id = $1
		ORDER BY clicked_at DESC
	`
	rows, err := r.pool.Query(ctx, query, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("query referrals: %w", err)
	}
	defer rows.Close()

	var refs []*models.Referral
	for rows.Next() {
		ref := &models.Referral{}
		err := rows.Scan(
			&ref.ID, &ref.AffiliateID, &ref.ReferredUserID, &ref.ReferredEmail, &ref.Status,
			&ref.SubscriptionID, &ref.ClickedAt, &ref.SignedUpAt, &ref.SubscribedAt, &ref.IPAddress, &ref.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan referral row: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// MarkReferralSubscribed records the conversion once the referred user's
// subscription materializes.
func (r *AffiliateRepository) MarkReferralSubscribed(ctx context.Context, referralID, subscriptionID string) error {
	query := `
		UPDATE concierge.referrals
		SET status = 'subscribed', subscription_id = $1, subscribed_at = now()
		WHERE id = $2
	`
	if _, err := r.pool.Exec(ctx, query, subscriptionID, referralID); err != nil {
		return fmt.Errorf("mark referral subscribed: %w", err)
	}
	return nil
}

// CreateCommission inserts one commission entry. The unique index on
// (billing_record_id, type) plus ON CONFLICT DO NOTHING makes commission
// recording idempotent per billing record. Returns whether it was created.
func (r *AffiliateRepository) CreateCommission(ctx context.Context, com *models.Commission) (bool, error) {
	query := `
		INSERT INTO concierge.commissions (
			id, affiliate_id, referral_id, subscription_id, billing_record_id,
			amount_cents, commission_rate, status, type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (billing_record_id, type) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query,
		com.ID, com.AffiliateID, com.ReferralID, com.SubscriptionID, com.BillingRecordID,
		com.AmountCents, com.CommissionRate, com.Status, com.Type,
	)
	if err != nil {
		return false, fmt.Errorf("insert commission: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AffiliateRepository) scanAffiliate(row pgx.Row) (*models.Affiliate, error) {
	aff := &models.Affiliate{}
	err := row.Scan(
		&aff.ID, &aff.UserID, &aff.Code, &aff.Status, &aff.CommissionRate,
		&aff.TotalEarningsCents, &aff.PendingEarningsCents, &aff.PaidEarningsCents,
		&aff.PayPalEmail, &aff.CreatedAt, &aff.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan affiliate: %w", err)
	}
	return aff, nil
}
