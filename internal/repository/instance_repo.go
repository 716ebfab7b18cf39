package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrInstanceActive is returned when a deploy hits an existing instance that
// is neither provisioning nor errored, so it cannot be reset.
var ErrInstanceActive = errors.New("instance already active")

type InstanceRepository struct {
	pool *pgxpool.Pool
}

func NewInstanceRepository(pool *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{pool: pool}
}

const instanceColumns = `id, user_id, subscription_id, status, do_app_id,
	ai_role, telegram_bot_token, config, error_message, created_at, updated_at`

// UpsertForDeploy creates the instance in provisioning state, or resets an
// existing non-deleted instance that is still provisioning or errored:
// configuration is overwritten, the error message cleared, and created_at
// refreshed so the staleness clock restarts. A partial unique index on
// user_id (status != 'deleted') makes this atomic; two concurrent deploys
// for one user cannot create two rows. If the existing instance is running
// or stopped, no row is touched and ErrInstanceActive is returned.
func (r *InstanceRepository) UpsertForDeploy(ctx context.Context, inst *models.Instance) (*models.Instance, error) {
	configJSON, err := json.Marshal(inst.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO concierge.instances (
			id, user_id, subscription_id, status, ai_role, telegram_bot_token, config
		) VALUES ($1, $2, $3, 'provisioning', $4, $5, $6)
		ON CONFLICT (user_id) WHERE status != 'deleted'
		DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			status = 'provisioning',
			ai_role = EXCLUDED.ai_role,
			telegram_bot_token = EXCLUDED.telegram_bot_token,
			config = EXCLUDED.config,
			do_app_id = NULL,
			error_message = NULL,
			created_at = now(),
			updated_at = now()
		WHERE concierge.instances.status IN ('provisioning', 'error')
		RETURNING ` + instanceColumns

	row := r.pool.QueryRow(ctx, query,
		inst.ID, inst.UserID, inst.SubscriptionID, inst.AIRole, inst.TelegramBotToken, configJSON)

	result, err := r.scanInstance(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Conflict hit a row the DO UPDATE predicate rejected.
			return nil, ErrInstanceActive
		}
		return nil, err
	}
	return result, nil
}

// GetByUserID returns the user's non-deleted instance.
func (r *InstanceRepository) GetByUserID(ctx context.Context, userID int64) (*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM concierge.instances
		WHERE user_id = $1 AND status != 'deleted'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanInstance(r.pool.QueryRow(ctx, query, userID))
}

// GetByID returns an instance by row id.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM concierge.instances WHERE id = $1`
	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// MarkRunning records a successful provision: external app id, running
// status, and the config patched with gateway credentials.
func (r *InstanceRepository) MarkRunning(ctx context.Context, id, doAppID string, config models.InstanceConfig) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		UPDATE concierge.instances
		SET status = 'running', do_app_id = $1, config = $2, error_message = NULL, updated_at = now()
		WHERE id = $3
	`
	if _, err := r.pool.Exec(ctx, query, doAppID, configJSON, id); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// MarkError records a failed provision.
func (r *InstanceRepository) MarkError(ctx context.Context, id, message string) error {
	query := `
		UPDATE concierge.instances
		SET status = 'error', error_message = $1, updated_at = now()
		WHERE id = $2
	`
	if _, err := r.pool.Exec(ctx, query, message, id); err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return nil
}

// MarkTimedOut flips a stuck provisioning instance to error. The status
// guard makes this a compare-and-set: a concurrent success or failure
// write-back wins and the timeout becomes a no-op. Returns whether the
// transition happened.
func (r *InstanceRepository) MarkTimedOut(ctx context.Context, id string, cutoff time.Time, message string) (bool, error) {
	query := `
		UPDATE concierge.instances
		SET status = 'error', error_message = $1, updated_at = now()
		WHERE id = $2 AND status = 'provisioning' AND created_at < $3
	`
	tag, err := r.pool.Exec(ctx, query, message, id, cutoff)
	if err != nil {
		return false, fmt.Errorf("mark timed out: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetForRetry moves an errored instance back to provisioning, clearing the
// error and restarting the staleness clock. Compare-and-set on status:
// returns false when the instance is not in error state.
func (r *InstanceRepository) ResetForRetry(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE concierge.instances
		SET status = 'provisioning', error_message = NULL, do_app_id = NULL,
		    created_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'error'
	`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("reset for retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDeleted soft-deletes the instance.
func (r *InstanceRepository) MarkDeleted(ctx context.Context, id string) error {
	query := `UPDATE concierge.instances SET status = 'deleted', updated_at = now() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	return nil
}

// ReassignUser moves instances from a temporary pre-auth user id to the
// real one. Idempotent: affects zero rows once migrated.
func (r *InstanceRepository) ReassignUser(ctx context.Context, fromUserID, toUserID int64) error {
	query := `UPDATE concierge.instances SET user_id = $1, updated_at = now() WHERE user_id = $2`
	if _, err := r.pool.Exec(ctx, query, toUserID, fromUserID); err != nil {
		return fmt.Errorf("reassign instances: %w", err)
	}
	return nil
}

func (r *InstanceRepository) scanInstance(row pgx.Row) (*models.Instance, error) {
	inst := &models.Instance{}
	var configJSON []byte

	err := row.Scan(
		&inst.ID, &inst.UserID, &inst.SubscriptionID, &inst.Status, &inst.DOAppID,
		&inst.AIRole, &inst.TelegramBotToken, &configJSON, &inst.ErrorMessage,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &inst.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return inst, nil
}
