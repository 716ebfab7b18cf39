package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/client"
	"github.com/khemia0101-del/openclaw-concierge/internal/service"
)

// WebhookHandler processes Stripe webhook events. It is a secondary path
// into the payment gate: the success page normally verifies first, and the
// gate is idempotent, so processing the same session twice is harmless.
type WebhookHandler struct {
	stripe   *client.StripeClient
	checkout *service.CheckoutService
	logger   *zap.Logger
}

func NewWebhookHandler(stripe *client.StripeClient, checkout *service.CheckoutService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{stripe: stripe, checkout: checkout, logger: logger}
}

// HandleStripe verifies the webhook signature against the raw body and
// dispatches the event.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}

	event, err := h.stripe.ConstructWebhookEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			h.logger.Error("webhook payload decode failed",
				zap.String("event_id", event.ID), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		if _, err := h.checkout.VerifyPayment(c.Request.Context(), sess.ID); err != nil {
			// Return 200 for business-rule rejections so Stripe does not
			// retry forever; only infrastructure failures get a retry.
			h.logger.Warn("webhook gate rejected session",
				zap.String("session_id", sess.ID), zap.Error(err))
		}

	default:
		h.logger.Debug("webhook event ignored", zap.String("type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
