package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

type LeadRepository struct {
	pool *pgxpool.Pool
}

func NewLeadRepository(pool *pgxpool.Pool) *LeadRepository {
	return &LeadRepository{pool: pool}
}

// UpsertCheckoutStarted records that a lead reached checkout, creating the
// lead if this is the first time we see the email.
func (r *LeadRepository) UpsertCheckoutStarted(ctx context.Context, lead *models.Lead) error {
	query := `
		INSERT INTO concierge.leads (id, email, selected_tier, status, stripe_session_id, user_id, source)
		VALUES ($1, $2, $3, 'checkout_started', $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			selected_tier = EXCLUDED.selected_tier,
			status = 'checkout_started',
			stripe_session_id = EXCLUDED.stripe_session_id,
			updated_at = now()
	`
	_, err := r.pool.Exec(ctx, query,
		lead.ID, lead.Email, lead.SelectedTier, lead.StripeSessionID, lead.UserID, lead.Source)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

// MarkPaid moves the lead to paid once the payment gate confirms the session.
func (r *LeadRepository) MarkPaid(ctx context.Context, email string, userID int64) error {
	query := `
		UPDATE concierge.leads
		SET status = 'paid', user_id = $1, updated_at = now()
		WHERE email = $2
	`
	if _, err := r.pool.Exec(ctx, query, userID, email); err != nil {
		return fmt.Errorf("mark lead paid: %w", err)
	}
	return nil
}

// GetByEmail returns a lead by email.
func (r *LeadRepository) GetByEmail(ctx context.Context, email string) (*models.Lead, error) {
	query := `
		SELECT id, email, selected_tier, status, stripe_session_id, user_id, source, created_at, updated_at
		FROM concierge.leads
		WHERE email = $1
	`
	lead := &models.Lead{}
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&lead.ID, &lead.Email, &lead.SelectedTier, &lead.Status,
		&lead.StripeSessionID, &lead.UserID, &lead.Source, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan lead: %w", err)
	}
	return lead, nil
}

// AssignUser binds the lead to its real user id after login. Idempotent.
func (r *LeadRepository) AssignUser(ctx context.Context, email string, userID int64) error {
	query := `UPDATE concierge.leads SET user_id = $1, updated_at = now() WHERE email = $2`
	if _, err := r.pool.Exec(ctx, query, userID, email); err != nil {
		return fmt.Errorf("assign lead user: %w", err)
	}
	return nil
}
