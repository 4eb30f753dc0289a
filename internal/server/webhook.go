package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/studiolane/studiolane/internal/billing/domain"
	"github.com/studiolane/studiolane/internal/observability/logger"
	"go.uber.org/zap"
)

// Payloads above this size are rejected before verification.
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler exposes the gateway webhook endpoint.
type WebhookHandler struct {
	svc domain.Service
}

func NewWebhookHandler(svc domain.Service) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func (h *WebhookHandler) Register(router gin.IRouter) {
	router.POST("/v1/billing/webhook", h.handle)
	router.GET("/v1/billing/webhook", h.describe)
}

// handle receives one gateway notification. The body is read raw and passed
// through untouched; signature verification needs the exact bytes.
//
// Response codes follow the gateway's redelivery contract: 2xx stops
// redelivery, 4xx marks the request invalid, 5xx asks for a retry.
func (h *WebhookHandler) handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, "invalid_payload", "request body unreadable")
		return
	}
	if len(payload) > maxWebhookBodyBytes {
		AbortWithError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook payload exceeds limit")
		return
	}

	err = h.svc.IngestWebhook(c.Request.Context(), payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, domain.ErrEventAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
	case errors.Is(err, domain.ErrInvalidSignature):
		AbortWithError(c, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrInvalidEvent):
		AbortWithError(c, http.StatusBadRequest, "invalid_payload", "webhook payload rejected")
	default:
		logger.FromContext(c.Request.Context()).Error("webhook processing failed", zap.Error(err))
		AbortWithError(c, http.StatusInternalServerError, "internal_error", "webhook processing failed")
	}
}

// describe answers capability probes on the webhook path.
func (h *WebhookHandler) describe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"provider": "stripe",
		"events":   h.svc.AcceptedEventTypes(),
	})
}
