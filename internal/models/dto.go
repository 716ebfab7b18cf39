package models

// ==================== Onboarding DTOs ====================

// CreateCheckoutRequest starts a Stripe checkout for setup fee + first month.
type CreateCheckoutRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Tier   string `json:"tier" binding:"required"`
	UserID int64  `json:"user_id" binding:"required"`
	Origin string `json:"origin"`
}

// CreateCheckoutResponse is returned after creating a checkout session.
type CreateCheckoutResponse struct {
	SessionURL string `json:"session_url"`
	SessionID  string `json:"session_id"`
}

// VerifyPaymentRequest confirms a checkout session and materializes the
// subscription. Safe to call multiple times for the same session.
type VerifyPaymentRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// VerifyPaymentResponse is the result of payment confirmation.
type VerifyPaymentResponse struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
	Tier    string `json:"tier"`
}

// DeployRequest accepts an instance deployment. The server returns as soon
// as the instance record is durable; provisioning continues in background.
type DeployRequest struct {
	SessionID             string   `json:"session_id" binding:"required"`
	UserID                int64    `json:"user_id" binding:"required"`
	UserEmail             string   `json:"user_email"`
	AIRole                string   `json:"ai_role" binding:"required"`
	TelegramBotToken      string   `json:"telegram_bot_token,omitempty"`
	CommunicationChannels []string `json:"communication_channels"`
	ConnectedServices     []string `json:"connected_services"`
	CustomAPIKey          string   `json:"custom_api_key,omitempty"`
}

// DeployResponse acknowledges that provisioning has started.
type DeployResponse struct {
	Success    bool   `json:"success"`
	InstanceID string `json:"instance_id"`
	Message    string `json:"message,omitempty"`
}

// InstanceStatusResponse is the polled status view. The gateway token is
// deliberately absent here; it is only exposed through the authenticated
// dashboard query.
type InstanceStatusResponse struct {
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
	DOAppID      *string `json:"do_app_id,omitempty"`
}

// RetryDeployRequest re-issues provisioning for an errored instance.
type RetryDeployRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// ==================== Dashboard DTOs ====================

// DashboardStatusResponse is the authenticated full account view.
type DashboardStatusResponse struct {
	Subscription   *Subscription    `json:"subscription"`
	Instance       *InstanceView    `json:"instance"`
	BillingRecords []*BillingRecord `json:"billing_records"`
}

// InstanceView is the dashboard projection of an instance, including the
// gateway credentials minted at provisioning time.
type InstanceView struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	DOAppID      *string  `json:"do_app_id,omitempty"`
	AIRole       string   `json:"ai_role"`
	GatewayURL   string   `json:"gateway_url,omitempty"`
	GatewayToken string   `json:"gateway_token,omitempty"`
	Channels     []string `json:"communication_channels"`
	Services     []string `json:"connected_services"`
	ErrorMessage *string  `json:"error_message,omitempty"`
}

// InstanceLogsResponse carries recent run logs from the provisioner.
type InstanceLogsResponse struct {
	Logs []string `json:"logs"`
}

// ==================== Affiliate DTOs ====================

// AffiliateStatsResponse summarizes an affiliate's referral funnel.
type AffiliateStatsResponse struct {
	TotalReferrals       int     `json:"total_referrals"`
	SignedUpReferrals    int     `json:"signed_up_referrals"`
	SubscribedReferrals  int     `json:"subscribed_referrals"`
	ConversionRate       float64 `json:"conversion_rate"`
	TotalEarningsCents   int64   `json:"total_earnings_cents"`
	PendingEarningsCents int64   `json:"pending_earnings_cents"`
}

// ==================== Internal DTOs ====================

// MigrateLeadRequest rebinds records from a temporary pre-auth user id to
// the real post-login id, matched by email. Idempotent.
type MigrateLeadRequest struct {
	TempUserID int64  `json:"temp_user_id" binding:"required"`
	RealUserID int64  `json:"real_user_id" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
}
