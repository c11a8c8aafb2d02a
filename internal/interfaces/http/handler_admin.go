package http

import (
	"errors"
	"net/http"
	"strconv"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/logger"
	"ledgerbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler exposes tenant provisioning and license issuance to operators.
type AdminHandler struct {
	tenants  *usecases.TenantService
	licenses *usecases.LicenseService
	ledger   *usecases.LedgerService
	logger   *zap.Logger
}

func NewAdminHandler(tenants *usecases.TenantService, licenses *usecases.LicenseService, ledger *usecases.LedgerService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		tenants:  tenants,
		licenses: licenses,
		ledger:   ledger,
		logger:   logger,
	}
}

func (h *AdminHandler) RegisterRoutes(admin gin.IRouter) {
	admin.GET("/tenants", h.ListTenants)
	admin.POST("/tenants", h.CreateTenant)
	admin.GET("/tenants/:id/status", h.TenantStatus)
	admin.POST("/tenants/:id/start", h.StartTenant)
	admin.POST("/tenants/:id/stop", h.StopTenant)
	admin.POST("/tenants/:id/reload", h.ReloadTenant)
	admin.GET("/tenants/:id/chats/:chat_id/summary", h.ChatSummary)
	admin.POST("/licenses", h.GenerateLicense)
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// ListTenants returns all tenants with their runtime state
func (h *AdminHandler) ListTenants(c *gin.Context) {
	views, err := h.tenants.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to fetch tenants")
		return
	}
	c.JSON(http.StatusOK, views)
}

// CreateTenant registers a bot credential and starts it
func (h *AdminHandler) CreateTenant(c *gin.Context) {
	var payload struct {
		Token   string                 `json:"token" binding:"required"`
		Name    string                 `json:"name"`
		Buttons *entities.ButtonConfig `json:"buttons"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token := SanitizeString(payload.Token)
	if !ValidBotToken(token) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bot token"})
		return
	}
	name := TruncateString(SanitizeString(payload.Name), MaxTenantNameLength)
	if b := payload.Buttons; b != nil {
		if !ValidLink(b.BizURL) || !ValidLink(b.ComplaintURL) || !ValidLink(b.SupportURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid button link"})
			return
		}
		b.BillText = TruncateString(SanitizeString(b.BillText), MaxButtonTextLength)
		b.BizText = TruncateString(SanitizeString(b.BizText), MaxButtonTextLength)
		b.ComplaintText = TruncateString(SanitizeString(b.ComplaintText), MaxButtonTextLength)
		b.SupportText = TruncateString(SanitizeString(b.SupportText), MaxButtonTextLength)
	}

	tenant, started, err := h.tenants.Register(c.Request.Context(), token, name, payload.Buttons)
	if err != nil {
		h.fail(c, err, "Failed to create tenant")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tenant": tenant, "started": started})
}

func (h *AdminHandler) TenantStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	status, err := h.tenants.Status(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to fetch status")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *AdminHandler) StartTenant(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	status, err := h.tenants.Start(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to start bot")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *AdminHandler) StopTenant(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.tenants.Stop(c.Request.Context(), id); err != nil {
		h.fail(c, err, "Failed to stop bot")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *AdminHandler) ReloadTenant(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	status, err := h.tenants.Reload(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to reload bot")
		return
	}
	c.JSON(http.StatusOK, status)
}

// ChatSummary returns the current settlement window's totals for one chat
func (h *AdminHandler) ChatSummary(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	sum, err := h.ledger.GetDailySummary(c.Request.Context(), id, chatID)
	if err != nil {
		h.fail(c, err, "Failed to fetch summary")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": id,
		"chat_id":   chatID,
		"summary":   sum,
	})
}

// GenerateLicense mints a single-use activation code
func (h *AdminHandler) GenerateLicense(c *gin.Context) {
	var payload struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if payload.Days > MaxLicenseDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many days"})
		return
	}

	lc, err := h.licenses.GenerateCode(c.Request.Context(), payload.Days)
	if err != nil {
		h.fail(c, err, "Failed to generate code")
		return
	}
	logger.FromContext(c.Request.Context(), h.logger).Info("license code issued",
		zap.String("issued_by", c.GetString(ctxSubject)), zap.Int("days", lc.Days))
	c.JSON(http.StatusCreated, lc)
}

// fail maps domain errors to status codes; anything unexpected is logged
// and reported as msg.
func (h *AdminHandler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, entities.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
	case errors.Is(err, entities.ErrInvalidTenant), errors.Is(err, entities.ErrInvalidDays):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrRuntimeStart):
		c.JSON(http.StatusBadGateway, gin.H{"error": msg})
	default:
		logger.FromContext(c.Request.Context(), h.logger).Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
