package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
	"github.com/khemia0101-del/openclaw-concierge/internal/repository"
)

// defaultCommissionRate is the percentage applied to new affiliate accounts.
const defaultCommissionRate = 30.00

// AffiliateStore is the slice of the affiliate repository the service needs.
type AffiliateStore interface {
	Create(ctx context.Context, aff *models.Affiliate) error
	GetByUserID(ctx context.Context, userID int64) (*models.Affiliate, error)
	GetByID(ctx context.Context, id string) (*models.Affiliate, error)
	GetByCode(ctx context.Context, code string) (*models.Affiliate, error)
	IncrementEarnings(ctx context.Context, affiliateID string, amountCents int64) error
	CreateReferral(ctx context.Context, ref *models.Referral) error
	GetReferralByReferredUser(ctx context.Context, userID int64) (*models.Referral, error)
	ListReferrals(ctx context.Context, affiliateID string) ([]*models.Referral, error)
	MarkReferralSubscribed(ctx context.Context, referralID, subscriptionID string) error
	CreateCommission(ctx context.Context, com *models.Commission) (bool, error)
}

// AffiliateService owns affiliate accounts, referral tracking, and
// commission generation.
type AffiliateService struct {
	affiliates AffiliateStore
	logger     *zap.Logger
}

func NewAffiliateService(affiliates AffiliateStore, logger *zap.Logger) *AffiliateService {
	return &AffiliateService{affiliates: affiliates, logger: logger}
}

// CreateAccount creates an affiliate account for a user, or returns the
// existing one. Referral codes are random; on the rare collision the insert
// is retried with a fresh code.
func (s *AffiliateService) CreateAccount(ctx context.Context, userID int64) (*models.Affiliate, error) {
	existing, err := s.affiliates.GetByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		code, err := newReferralCode()
		if err != nil {
			return nil, err
		}
		aff := &models.Affiliate{
			ID:             uuid.New().String(),
			UserID:         userID,
			Code:           code,
			Status:         "active",
			CommissionRate: defaultCommissionRate,
		}
		if err := s.affiliates.Create(ctx, aff); err != nil {
			lastErr = err
			continue
		}
		s.logger.Info("affiliate account created",
			zap.Int64("user_id", userID), zap.String("code", code))
		return aff, nil
	}
	return nil, fmt.Errorf("create affiliate account: %w", lastErr)
}

// TrackClick records a referral click for an affiliate code.
func (s *AffiliateService) TrackClick(ctx context.Context, code, email, ipAddress string) error {
	aff, err := s.affiliates.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		// Unknown codes are dropped silently so the landing page never breaks.
		return nil
	}
	if err != nil {
		return err
	}

	ref := &models.Referral{
		ID:          uuid.New().String(),
		AffiliateID: aff.ID,
		Status:      models.ReferralStatusPending,
	}
	if email != "" {
		ref.ReferredEmail = &email
	}
	if ipAddress != "" {
		ref.IPAddress = &ipAddress
	}
	return s.affiliates.CreateReferral(ctx, ref)
}

// RecordConversion turns a materialized subscription into commissions for
// the referring affiliate, if any. The (billing record, type) unique
// constraint makes commission creation idempotent; earnings are only
// incremented for commissions actually created this call.
func (s *AffiliateService) RecordConversion(ctx context.Context, userID int64, subscriptionID string, records []*models.BillingRecord) error {
	ref, err := s.affiliates.GetReferralByReferredUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	aff, err := s.affiliates.GetByID(ctx, ref.AffiliateID)
	if err != nil {
		return fmt.Errorf("load affiliate: %w", err)
	}

	for _, rec := range records {
		commissionType := models.CommissionSetupFee
		if rec.Type == models.BillingMonthlySubscription {
			commissionType = models.CommissionMonthlyRecurring
		}
		amount := int64(math.Round(float64(rec.AmountCents) * aff.CommissionRate / 100))

		created, err := s.affiliates.CreateCommission(ctx, &models.Commission{
			ID:              uuid.New().String(),
			AffiliateID:     aff.ID,
			ReferralID:      ref.ID,
			SubscriptionID:  subscriptionID,
			BillingRecordID: rec.ID,
			AmountCents:     amount,
			CommissionRate:  aff.CommissionRate,
			Status:          models.CommissionStatusPending,
			Type:            commissionType,
		})
		if err != nil {
			return fmt.Errorf("create commission: %w", err)
		}
		if created {
			if err := s.affiliates.IncrementEarnings(ctx, aff.ID, amount); err != nil {
				return fmt.Errorf("increment earnings: %w", err)
			}
		}
	}

	if err := s.affiliates.MarkReferralSubscribed(ctx, ref.ID, subscriptionID); err != nil {
		return fmt.Errorf("mark referral subscribed: %w", err)
	}

	s.logger.Info("affiliate conversion recorded",
		zap.String("affiliate_id", aff.ID),
		zap.Int64("referred_user_id", userID),
		zap.String("subscription_id", subscriptionID))
	return nil
}

// Referrals lists the referrals of the user's affiliate account.
func (s *AffiliateService) Referrals(ctx context.Context, userID int64) ([]*models.Referral, error) {
	aff, err := s.affiliates.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.affiliates.ListReferrals(ctx, aff.ID)
}

// Stats summarizes an affiliate's referral funnel and earnings.
func (s *AffiliateService) Stats(ctx context.Context, userID int64) (*models.AffiliateStatsResponse, error) {
	aff, err := s.affiliates.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	refs, err := s.affiliates.ListReferrals(ctx, aff.ID)
	if err != nil {
		return nil, err
	}

	stats := &models.AffiliateStatsResponse{
		TotalReferrals:       len(refs),
		TotalEarningsCents:   aff.TotalEarningsCents,
		PendingEarningsCents: aff.PendingEarningsCents,
	}
	for _, ref := range refs {
		switch ref.Status {
		case models.ReferralStatusSignedUp:
			stats.SignedUpReferrals++
		case models.ReferralStatusSubscribed:
			stats.SubscribedReferrals++
		}
	}
	if stats.TotalReferrals > 0 {
		stats.ConversionRate = float64(stats.SubscribedReferrals) / float64(stats.TotalReferrals) * 100
	}
	return stats, nil
}
