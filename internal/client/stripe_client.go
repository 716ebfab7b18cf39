package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// StripeClient wraps the Stripe API for checkout and payment verification.
type StripeClient struct {
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeClient configures the global Stripe key and returns a client.
func NewStripeClient(secretKey, webhookSecret string, logger *zap.Logger) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// CheckoutParams are the inputs for a setup fee + first month checkout.
// Amounts are in cents and must come from the fixed pricing table.
type CheckoutParams struct {
	Email             string
	Tier              string
	UserID            int64
	SuccessURL        string
	CancelURL         string
	SetupFeeCents     int64
	MonthlyPriceCents int64
}

// CheckoutSession is the created session reference returned to the client.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentSession is the verified state of a checkout session. Metadata is
// the trusted source for userId and tier, not client-supplied fields.
type PaymentSession struct {
	ID                   string
	Paid                 bool
	Metadata             map[string]string
	Email                string
	StripeCustomerID     string
	StripeSubscriptionID string
	PaymentIntentID      string
}

// CreateCheckoutSession creates a Stripe Checkout session with two line
// items: the one-time setup fee and the first month.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	tierName := strings.ToUpper(p.Tier[:1]) + p.Tier[1:]

	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:       stripe.String(p.Email),
		ClientReferenceID:   stripe.String(fmt.Sprintf("%d", p.UserID)),
		SuccessURL:          stripe.String(p.SuccessURL),
		CancelURL:           stripe.String(p.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(tierName + " Plan - Setup Fee"),
						Description: stripe.String("One-time setup and configuration fee"),
					},
					UnitAmount: stripe.Int64(p.SetupFeeCents),
				},
				Quantity: stripe.Int64(1),
			},
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(tierName + " Plan - First Month"),
						Description: stripe.String("Monthly subscription fee"),
					},
					UnitAmount: stripe.Int64(p.MonthlyPriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("userId", fmt.Sprintf("%d", p.UserID))
	params.AddMetadata("tier", p.Tier)
	params.AddMetadata("customerEmail", p.Email)

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	c.logger.Info("checkout session created",
		zap.String("session_id", s.ID),
		zap.Int64("user_id", p.UserID),
		zap.String("tier", p.Tier))

	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// GetCheckoutSession retrieves a checkout session and projects the fields
// the payment gate needs.
func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*PaymentSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := session.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}

	ps := &PaymentSession{
		ID:       s.ID,
		Paid:     s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Metadata: s.Metadata,
		Email:    s.CustomerEmail,
	}
	if ps.Email == "" && s.CustomerDetails != nil {
		ps.Email = s.CustomerDetails.Email
	}
	if s.Customer != nil {
		ps.StripeCustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		ps.StripeSubscriptionID = s.Subscription.ID
	}
	if s.PaymentIntent != nil {
		ps.PaymentIntentID = s.PaymentIntent.ID
	}
	return ps, nil
}

// RenewalDate returns the authoritative renewal date for a subscription.
// If a Stripe subscription exists its current period end wins; otherwise
// the fallback is 30 days from now (one-time payment mode).
func (c *StripeClient) RenewalDate(ctx context.Context, stripeSubscriptionID string) time.Time {
	fallback := time.Now().Add(30 * 24 * time.Hour)
	if stripeSubscriptionID == "" {
		return fallback
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(stripeSubscriptionID, params)
	if err != nil {
		c.logger.Warn("stripe subscription lookup failed, using 30-day fallback",
			zap.String("subscription_id", stripeSubscriptionID),
			zap.Error(err))
		return fallback
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		return time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
	}
	return fallback
}

// ConstructWebhookEvent verifies the webhook signature and parses the event.
func (c *StripeClient) ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, c.webhookSecret)
}
