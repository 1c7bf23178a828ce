package api

import (
	"context"
	"errors"
	"net/http"

	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const gatewayLiqPay = "liqpay"

// handleWebhook accepts a gateway server callback. Anything the gateway could
// not fix by retrying is acknowledged with 200 so it stops redelivering.
func (h *Handler) handleWebhook(c *gin.Context) {
	gateway := c.Param("gateway")
	if gateway != gatewayLiqPay {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown gateway"})
		return
	}

	data, signature := c.PostForm("data"), c.PostForm("signature")
	if data == "" || signature == "" {
		util.WebhookCallbacksTotal.WithLabelValues(gateway, "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing data or signature"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.webhookTimeout)
	defer cancel()

	result, err := h.reconciler.HandleCallback(ctx, data, signature)
	switch {
	case err == nil:
		util.WebhookCallbacksTotal.WithLabelValues(gateway, string(result.Outcome)).Inc()
		c.JSON(http.StatusOK, result)

	case errors.Is(err, payment.ErrMalformedPayload):
		util.WebhookCallbacksTotal.WithLabelValues(gateway, "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed callback", "details": err.Error()})

	case errors.Is(err, payment.ErrInvalidSignature):
		util.WebhookCallbacksTotal.WithLabelValues(gateway, "invalid_signature").Inc()
		h.logger.Warn("Callback rejected: invalid signature",
			zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})

	case errors.Is(err, models.ErrOrderNotFound):
		util.WebhookCallbacksTotal.WithLabelValues(gateway, "unknown_order").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "unknown order"})

	case errors.Is(err, models.ErrPaymentMismatch):
		util.WebhookCallbacksTotal.WithLabelValues(gateway, "mismatch").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "reason": err.Error()})

	default:
		util.WebhookCallbacksTotal.WithLabelValues(gateway, "error").Inc()
		h.logger.Error("Callback processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Callback processing failed"})
	}
}
