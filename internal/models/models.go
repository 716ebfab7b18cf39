package models

import (
	"time"
)

// Subscription tier constants
const (
	TierStarter  = "starter"
	TierPro      = "pro"
	TierBusiness = "business"
)

// Subscription status constants
const (
	SubStatusActive    = "active"
	SubStatusPaused    = "paused"
	SubStatusCancelled = "cancelled"
	SubStatusPending   = "pending"
)

// Instance status constants
const (
	StatusProvisioning = "provisioning"
	StatusRunning      = "running"
	StatusStopped      = "stopped"
	StatusError        = "error"
	StatusDeleted      = "deleted"
)

// Billing record types
const (
	BillingSetupFee            = "setup_fee"
	BillingMonthlySubscription = "monthly_subscription"
	BillingUsageCredit         = "usage_credit"
	BillingRefund              = "refund"
)

// Billing record statuses
const (
	BillingStatusPending   = "pending"
	BillingStatusCompleted = "completed"
	BillingStatusFailed    = "failed"
	BillingStatusRefunded  = "refunded"
)

// Lead statuses
const (
	LeadStatusNew             = "lead"
	LeadStatusCheckoutStarted = "checkout_started"
	LeadStatusPaid            = "paid"
	LeadStatusAbandoned       = "abandoned"
)

// Referral statuses
const (
	ReferralStatusPending    = "pending"
	ReferralStatusSignedUp   = "signed_up"
	ReferralStatusSubscribed = "subscribed"
	ReferralStatusCancelled  = "cancelled"
)

// Commission types and statuses
const (
	CommissionSetupFee         = "setup_fee"
	CommissionMonthlyRecurring = "monthly_recurring"

	CommissionStatusPending   = "pending"
	CommissionStatusApproved  = "approved"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"
)

// Subscription represents a paid plan for one user. At most one active
// subscription per user, enforced by a unique index on user_id plus upsert.
type Subscription struct {
	ID                   string
	UserID               int64
	Tier                 string
	Status               string
	SetupFeePaid         bool
	StripeCustomerID     *string
	StripeSubscriptionID *string
	MonthlyPriceCents    int64
	StartDate            time.Time
	RenewalDate          time.Time
	CancelledAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// InstanceConfig is the free-form configuration blob stored on an instance.
// GatewayURL and GatewayToken are filled in by the background provisioner
// once the app is created; ModelAPIKey is the customer-supplied key, kept so
// retries reuse the exact configuration of the original deploy.
type InstanceConfig struct {
	CommunicationChannels []string `json:"communication_channels"`
	ConnectedServices     []string `json:"connected_services"`
	ModelAPIKey           string   `json:"model_api_key,omitempty"`
	GatewayURL            string   `json:"gateway_url,omitempty"`
	GatewayToken          string   `json:"gateway_token,omitempty"`
}

// Instance represents one provisioned OpenClaw deployment for a user.
// At most one non-deleted instance per user.
type Instance struct {
	ID               string
	UserID           int64
	SubscriptionID   string
	Status           string
	DOAppID          *string
	AIRole           string
	TelegramBotToken *string
	Config           InstanceConfig
	ErrorMessage     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BillingRecord is an append-only ledger entry. Amounts are in cents.
type BillingRecord struct {
	ID              string
	UserID          int64
	SubscriptionID  *string
	Type            string
	AmountCents     int64
	Currency        string
	StripeChargeID  *string
	StripeInvoiceID *string
	Description     string
	Status          string
	CreatedAt       time.Time
}

// Lead is a pre-signup marketing capture keyed by email. UserID stays nil
// until the lead completes signup; the temporary pre-auth identifier is
// reconciled to the real one at login (see lead migration).
type Lead struct {
	ID              string
	Email           string
	SelectedTier    *string
	Status          string
	StripeSessionID *string
	UserID          *int64
	Source          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Affiliate is an affiliate partner account. Earnings totals are updated
// with a single atomic SQL increment, never read-modify-write.
type Affiliate struct {
	ID                   string
	UserID               int64
	Code                 string
	Status               string
	CommissionRate       float64 // percent, e.g. 30.00
	TotalEarningsCents   int64
	PendingEarningsCents int64
	PaidEarningsCents    int64
	PayPalEmail          *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Referral tracks one referred user and their conversion status.
type Referral struct {
	ID             string
	AffiliateID    string
	ReferredUserID *int64
	ReferredEmail  *string
	Status         string
	SubscriptionID *string
	ClickedAt      time.Time
	SignedUpAt     *time.Time
	SubscribedAt   *time.Time
	IPAddress      *string
	CreatedAt      time.Time
}

// Commission is one commission entry generated by a billing record.
type Commission struct {
	ID              string
	AffiliateID     string
	ReferralID      string
	SubscriptionID  string
	BillingRecordID string
	AmountCents     int64
	CommissionRate  float64
	Status          string
	Type            string
	CreatedAt       time.Time
}

// ProvisionLog is an append-only audit entry for the provisioning workflow.
type ProvisionLog struct {
	ID         string
	InstanceID string
	Action     string
	Status     string
	Message    string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}
