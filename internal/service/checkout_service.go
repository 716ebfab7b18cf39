package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/client"
	"github.com/khemia0101-del/openclaw-concierge/internal/config"
	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

// PaymentGateway is the slice of the Stripe client the checkout flow needs.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, p client.CheckoutParams) (*client.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*client.PaymentSession, error)
	RenewalDate(ctx context.Context, stripeSubscriptionID string) time.Time
}

type SubscriptionStore interface {
	CreateIfAbsent(ctx context.Context, sub *models.Subscription) (bool, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Subscription, error)
	ReassignUser(ctx context.Context, fromUserID, toUserID int64) error
}

type BillingStore interface {
	Create(ctx context.Context, rec *models.BillingRecord) error
	GetByUserID(ctx context.Context, userID int64) ([]*models.BillingRecord, error)
	ReassignUser(ctx context.Context, fromUserID, toUserID int64) error
}

type LeadStore interface {
	UpsertCheckoutStarted(ctx context.Context, lead *models.Lead) error
	MarkPaid(ctx context.Context, email string, userID int64) error
	AssignUser(ctx context.Context, email string, userID int64) error
}

type InstanceReassigner interface {
	ReassignUser(ctx context.Context, fromUserID, toUserID int64) error
}

// ConversionRecorder is the affiliate hook invoked when a subscription
// materializes. Implementations must be idempotent per billing record.
type ConversionRecorder interface {
	RecordConversion(ctx context.Context, userID int64, subscriptionID string, records []*models.BillingRecord) error
}

// CheckoutService owns the onboarding money path: checkout creation, the
// payment confirmation gate, and lead migration.
type CheckoutService struct {
	cfg        *config.Config
	stripe     PaymentGateway
	subs       SubscriptionStore
	billing    BillingStore
	leads      LeadStore
	instances  InstanceReassigner
	affiliates ConversionRecorder
	logger     *zap.Logger
}

func NewCheckoutService(
	cfg *config.Config,
	stripe PaymentGateway,
	subs SubscriptionStore,
	billing BillingStore,
	leads LeadStore,
	instances InstanceReassigner,
	affiliates ConversionRecorder,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		cfg:        cfg,
		stripe:     stripe,
		subs:       subs,
		billing:    billing,
		leads:      leads,
		instances:  instances,
		affiliates: affiliates,
		logger:     logger,
	}
}

// CreateCheckout builds a Stripe checkout session for the tier's setup fee
// plus first month. Amounts come from the fixed pricing table; the request
// never carries prices.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req *models.CreateCheckoutRequest) (*models.CreateCheckoutResponse, error) {
	pricing, ok := models.Pricing[req.Tier]
	if !ok {
		return nil, ErrInvalidTier
	}

	origin := req.Origin
	if origin == "" {
		origin = s.cfg.App.BaseURL
	}

	sess, err := s.stripe.CreateCheckoutSession(ctx, client.CheckoutParams{
		Email:             req.Email,
		Tier:              req.Tier,
		UserID:            req.UserID,
		SuccessURL:        origin + "/onboarding/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         origin + "/pricing",
		SetupFeeCents:     pricing.SetupFeeCents,
		MonthlyPriceCents: pricing.MonthlyPriceCents,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}

	tier := req.Tier
	sessionID := sess.ID
	userID := req.UserID
	lead := &models.Lead{
		ID:              uuid.New().String(),
		Email:           req.Email,
		SelectedTier:    &tier,
		StripeSessionID: &sessionID,
		UserID:          &userID,
		Source:          "checkout",
	}
	if err := s.leads.UpsertCheckoutStarted(ctx, lead); err != nil {
		// Lead capture is best effort, checkout must still proceed.
		s.logger.Warn("lead upsert failed", zap.String("email", req.Email), zap.Error(err))
	}

	return &models.CreateCheckoutResponse{
		SessionURL: sess.URL,
		SessionID:  sess.ID,
	}, nil
}

// VerifyPayment is the payment confirmation gate. It re-reads the session
// from Stripe, refuses unpaid sessions, and materializes the subscription,
// billing ledger entries, and affiliate commissions exactly once. Calling it
// again for the same user is a no-op that still reports success.
func (s *CheckoutService) VerifyPayment(ctx context.Context, sessionID string) (*models.VerifyPaymentResponse, error) {
	sess, err := s.stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if !sess.Paid {
		return nil, ErrPaymentNotCompleted
	}

	userID, err := strconv.ParseInt(sess.Metadata["userId"], 10, 64)
	if err != nil || userID <= 0 {
		return nil, ErrInvalidUserID
	}
	tier := sess.Metadata["tier"]
	pricing, ok := models.Pricing[tier]
	if !ok {
		return nil, ErrInvalidTier
	}

	email := sess.Metadata["customerEmail"]
	if email == "" {
		email = sess.Email
	}

	sub := &models.Subscription{
		ID:                uuid.New().String(),
		UserID:            userID,
		Tier:              tier,
		Status:            models.SubStatusActive,
		SetupFeePaid:      true,
		MonthlyPriceCents: pricing.MonthlyPriceCents,
		StartDate:         time.Now(),
		RenewalDate:       s.stripe.RenewalDate(ctx, sess.StripeSubscriptionID),
	}
	if sess.StripeCustomerID != "" {
		sub.StripeCustomerID = &sess.StripeCustomerID
	}
	if sess.StripeSubscriptionID != "" {
		sub.StripeSubscriptionID = &sess.StripeSubscriptionID
	}

	created, err := s.subs.CreateIfAbsent(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("materialize subscription: %w", err)
	}

	if created {
		records, err := s.createInitialBilling(ctx, sub, pricing, sess)
		if err != nil {
			return nil, err
		}
		if err := s.affiliates.RecordConversion(ctx, userID, sub.ID, records); err != nil {
			s.logger.Warn("affiliate conversion recording failed",
				zap.Int64("user_id", userID), zap.Error(err))
		}
		s.logger.Info("subscription materialized",
			zap.Int64("user_id", userID),
			zap.String("tier", tier),
			zap.String("subscription_id", sub.ID))
	} else {
		// The stored subscription is authoritative on re-verification. A later
		// session for the same user may carry a different tier in its metadata.
		existing, err := s.subs.GetByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load existing subscription: %w", err)
		}
		tier = existing.Tier
		s.logger.Info("payment re-verified, subscription already exists",
			zap.Int64("user_id", userID), zap.String("tier", tier))
	}

	if email != "" {
		if err := s.leads.MarkPaid(ctx, email, userID); err != nil {
			s.logger.Warn("lead mark paid failed", zap.String("email", email), zap.Error(err))
		}
	}

	return &models.VerifyPaymentResponse{
		Success: true,
		UserID:  userID,
		Email:   email,
		Tier:    tier,
	}, nil
}

// createInitialBilling appends the setup fee and first month ledger entries.
func (s *CheckoutService) createInitialBilling(ctx context.Context, sub *models.Subscription, pricing models.TierPricing, sess *client.PaymentSession) ([]*models.BillingRecord, error) {
	var chargeID *string
	if sess.PaymentIntentID != "" {
		id := sess.PaymentIntentID
		chargeID = &id
	}

	records := []*models.BillingRecord{
		{
			ID:             uuid.New().String(),
			UserID:         sub.UserID,
			SubscriptionID: &sub.ID,
			Type:           models.BillingSetupFee,
			AmountCents:    pricing.SetupFeeCents,
			Currency:       "usd",
			StripeChargeID: chargeID,
			Description:    "One-time setup and configuration fee",
			Status:         models.BillingStatusCompleted,
		},
		{
			ID:             uuid.New().String(),
			UserID:         sub.UserID,
			SubscriptionID: &sub.ID,
			Type:           models.BillingMonthlySubscription,
			AmountCents:    pricing.MonthlyPriceCents,
			Currency:       "usd",
			StripeChargeID: chargeID,
			Description:    "Monthly subscription fee (first month)",
			Status:         models.BillingStatusCompleted,
		},
	}

	for _, rec := range records {
		if err := s.billing.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("create billing record: %w", err)
		}
	}
	return records, nil
}

// MigrateLead rebinds everything recorded under a temporary pre-auth user id
// to the real post-login id. Every step is idempotent, so replays are safe.
func (s *CheckoutService) MigrateLead(ctx context.Context, req *models.MigrateLeadRequest) error {
	if req.TempUserID == req.RealUserID {
		return nil
	}

	if err := s.subs.ReassignUser(ctx, req.TempUserID, req.RealUserID); err != nil {
		return fmt.Errorf("migrate subscriptions: %w", err)
	}
	if err := s.instances.ReassignUser(ctx, req.TempUserID, req.RealUserID); err != nil {
		return fmt.Errorf("migrate instances: %w", err)
	}
	if err := s.billing.ReassignUser(ctx, req.TempUserID, req.RealUserID); err != nil {
		return fmt.Errorf("migrate billing records: %w", err)
	}
	if err := s.leads.AssignUser(ctx, req.Email, req.RealUserID); err != nil {
		return fmt.Errorf("migrate lead: %w", err)
	}

	s.logger.Info("lead migrated",
		zap.Int64("temp_user_id", req.TempUserID),
		zap.Int64("real_user_id", req.RealUserID))
	return nil
}
