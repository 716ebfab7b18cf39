package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
	"github.com/khemia0101-del/openclaw-concierge/internal/repository"
	"github.com/khemia0101-del/openclaw-concierge/internal/service"
)

type Handler struct {
	checkout   *service.CheckoutService
	provision  *service.ProvisionService
	affiliates *service.AffiliateService
	logger     *zap.Logger
}

func NewHandler(checkout *service.CheckoutService, provision *service.ProvisionService, affiliates *service.AffiliateService, logger *zap.Logger) *Handler {
	return &Handler{
		checkout:   checkout,
		provision:  provision,
		affiliates: affiliates,
		logger:     logger,
	}
}

// ==================== Onboarding Handlers ====================

// CreateCheckout starts a Stripe checkout session for a tier.
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req models.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.checkout.CreateCheckout(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
			return
		}
		h.logger.Error("create checkout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create checkout session"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyPayment confirms a checkout session and materializes the
// subscription. Safe to call repeatedly for the same session.
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.checkout.VerifyPayment(c.Request.Context(), req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotCompleted):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment not completed"})
		case errors.Is(err, service.ErrInvalidUserID), errors.Is(err, service.ErrInvalidTier):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("verify payment failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payment verification failed"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Deploy accepts an instance deployment and returns as soon as the record
// is durable. The client polls DeployStatus for progress.
func (h *Handler) Deploy(c *gin.Context) {
	var req models.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provision.Deploy(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotCompleted):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment not completed"})
		case errors.Is(err, service.ErrSessionMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": "session does not belong to user"})
		case errors.Is(err, service.ErrInvalidBotToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telegram bot token format"})
		case errors.Is(err, repository.ErrInstanceActive):
			c.JSON(http.StatusConflict, gin.H{"error": "instance already active"})
		default:
			h.logger.Error("deploy failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deployment failed to start"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeployStatus is the polled provisioning status endpoint. The route is
// unauthenticated, so the checkout session doubles as the credential.
func (h *Handler) DeployStatus(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}

	resp, err := h.provision.Status(c.Request.Context(), userID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoInstance):
			c.JSON(http.StatusNotFound, gin.H{"error": "no instance found"})
		case errors.Is(err, service.ErrSessionMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": "session does not belong to user"})
		default:
			h.logger.Error("status query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status query failed"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RetryDeploy re-issues provisioning for an errored instance.
func (h *Handler) RetryDeploy(c *gin.Context) {
	var req models.RetryDeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provision.Retry(c.Request.Context(), req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoInstance):
			c.JSON(http.StatusNotFound, gin.H{"error": "no instance found"})
		case errors.Is(err, service.ErrRetryNotAllowed):
			c.JSON(http.StatusConflict, gin.H{"error": "retry only allowed for errored instances"})
		default:
			h.logger.Error("retry failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ==================== Dashboard Handlers ====================

// DashboardStatus returns the authenticated full account view.
func (h *Handler) DashboardStatus(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	resp, err := h.provision.Dashboard(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no subscription found"})
			return
		}
		h.logger.Error("dashboard query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dashboard query failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RestartInstance forces a new deployment of the user's app.
func (h *Handler) RestartInstance(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	if err := h.provision.Restart(c.Request.Context(), userID); err != nil {
		if errors.Is(err, service.ErrNoInstance) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no instance found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "restart triggered"})
}

// InstanceLogs returns recent runtime log URLs.
func (h *Handler) InstanceLogs(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	resp, err := h.provision.Logs(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNoInstance) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no instance found"})
			return
		}
		h.logger.Error("logs query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logs query failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteInstance tears down the user's app and soft-deletes the instance.
func (h *Handler) DeleteInstance(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	if err := h.provision.Delete(c.Request.Context(), userID); err != nil {
		if errors.Is(err, service.ErrNoInstance) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no instance found"})
			return
		}
		h.logger.Error("instance delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "instance delete failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "instance deleted"})
}

// ==================== Affiliate Handlers ====================

// CreateAffiliate creates (or returns) the user's affiliate account.
func (h *Handler) CreateAffiliate(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	aff, err := h.affiliates.CreateAccount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("create affiliate failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create affiliate account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":            aff.Code,
		"commission_rate": aff.CommissionRate,
		"status":          aff.Status,
	})
}

// AffiliateStats summarizes the user's referral funnel.
func (h *Handler) AffiliateStats(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	stats, err := h.affiliates.Stats(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no affiliate account"})
			return
		}
		h.logger.Error("affiliate stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// AffiliateReferrals lists the user's referrals.
func (h *Handler) AffiliateReferrals(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	refs, err := h.affiliates.Referrals(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no affiliate account"})
			return
		}
		h.logger.Error("referral listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "referral listing failed"})
		return
	}
	if refs == nil {
		refs = []*models.Referral{}
	}

	c.JSON(http.StatusOK, gin.H{"referrals": refs})
}

// TrackReferral records a referral click for a code. Always succeeds from
// the caller's perspective so the landing page never breaks.
func (h *Handler) TrackReferral(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "referral code required"})
		return
	}

	if err := h.affiliates.TrackClick(c.Request.Context(), code, c.Query("email"), c.ClientIP()); err != nil {
		h.logger.Warn("referral tracking failed", zap.String("code", code), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== Internal Handlers ====================

// MigrateLead rebinds records from a temporary pre-auth user id to the real
// one. Called by the auth service at login; idempotent.
func (h *Handler) MigrateLead(c *gin.Context) {
	var req models.MigrateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.checkout.MigrateLead(c.Request.Context(), &req); err != nil {
		h.logger.Error("lead migration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lead migration failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== helpers ====================

func authedUserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, false
	}
	id, ok := v.(int64)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, false
	}
	return id, true
}

func queryUserID(c *gin.Context) (int64, bool) {
	raw := c.Query("user_id")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return 0, false
	}
	return id, true
}
