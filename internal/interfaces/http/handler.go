package http

import (
	"net/http"

	"ledgerbot/internal/infrastructure"
	"ledgerbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

// Dependencies are the services the HTTP surface is built over.
type Dependencies struct {
	Runtimes *infrastructure.RuntimeManager
	Tenants  *usecases.TenantService
	Licenses *usecases.LicenseService
	Ledger   *usecases.LedgerService
	Metrics  *infrastructure.Metrics
	Logger   *zap.Logger
}

// NewRouter returns a gin engine with every route installed.
func NewRouter(deps Dependencies, middleware *Middleware) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	SetupRoutes(r, deps, middleware)
	return r
}

func SetupRoutes(r *gin.Engine, deps Dependencies, middleware *Middleware) {
	telegramHandler := NewTelegramHandler(deps.Runtimes, deps.Metrics, deps.Logger)
	adminHandler := NewAdminHandler(deps.Tenants, deps.Licenses, deps.Ledger, deps.Logger)
	billHandler := NewBillHandler(deps.Ledger, deps.Logger)

	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())
	r.Use(deps.Metrics.Instrument())
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(maxRequestBytes))

	// Public Routes
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"runtimes": deps.Runtimes.Count(),
			"mode":     deps.Runtimes.Mode(),
		})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	telegramHandler.RegisterRoutes(r)
	billHandler.RegisterRoutes(r)

	// Admin-only Routes
	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthRequired())
	admin.Use(middleware.AdminRequired())
	admin.Use(middleware.RateLimitPerUser(5, 10))
	adminHandler.RegisterRoutes(admin)
}
