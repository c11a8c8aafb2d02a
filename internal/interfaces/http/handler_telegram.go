package http

import (
	"errors"
	"net/http"
	"strconv"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/infrastructure"
	"ledgerbot/internal/logger"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const headerWebhookSecret = "X-Telegram-Bot-Api-Secret-Token"

// TelegramHandler receives pushed updates in webhook mode.
type TelegramHandler struct {
	runtimes *infrastructure.RuntimeManager
	metrics  *infrastructure.Metrics
	logger   *zap.Logger
}

func NewTelegramHandler(runtimes *infrastructure.RuntimeManager, metrics *infrastructure.Metrics, logger *zap.Logger) *TelegramHandler {
	return &TelegramHandler{
		runtimes: runtimes,
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterRoutes registers the webhook callback.
func (h *TelegramHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/telegram/webhook/:tenant_id", h.Webhook)
}

// Webhook authenticates the callback by its per-tenant secret and dispatches
// the update synchronously.
func (h *TelegramHandler) Webhook(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Param("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		h.respond(c, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	if !h.runtimes.VerifyWebhookSecret(tenantID, c.GetHeader(headerWebhookSecret)) {
		h.respond(c, http.StatusUnauthorized, "Invalid secret")
		return
	}

	// Telegram retries anything but 2xx, so an undecodable update is
	// acknowledged and dropped.
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("dropping undecodable update", zap.Int64("tenant_id", tenantID), zap.Error(err))
		h.metrics.WebhookRequest(http.StatusOK)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	ctx := logger.WithTenant(c.Request.Context(), tenantID)
	if err := h.runtimes.HandleWebhook(ctx, tenantID, update); err != nil {
		if errors.Is(err, entities.ErrRuntimeNotFound) {
			h.respond(c, http.StatusNotFound, "Bot not running")
			return
		}
		logger.FromContext(ctx, h.logger).Error("webhook dispatch failed", zap.Error(err))
		h.respond(c, http.StatusInternalServerError, "Dispatch failed")
		return
	}

	h.metrics.WebhookRequest(http.StatusOK)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *TelegramHandler) respond(c *gin.Context, status int, msg string) {
	h.metrics.WebhookRequest(status)
	c.JSON(status, gin.H{"error": msg})
}
