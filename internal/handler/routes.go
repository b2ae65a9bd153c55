package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pokjoy/qfeng5/internal/middleware"
	"github.com/pokjoy/qfeng5/internal/utils"
)

// Handlers groups every HTTP handler of the service.
type Handlers struct {
	Health   *HealthHandler
	Unlock   *UnlockHandler
	Donation *DonationHandler
	Admin    *AdminHandler
}

// Middlewares groups the route-specific middleware.
type Middlewares struct {
	Admin      *middleware.AdminAuthMiddleware
	CodeLimit  *middleware.InvalidCodeRateLimiter
	CookieName string
}

// SetupRoutes registers every route under /v1.
func SetupRoutes(router *gin.Engine, h *Handlers, mw *Middlewares) {
	v1 := router.Group("/v1")

	v1.GET("/health", h.Health.GetHealth)
	v1.GET("/health/database", h.Health.GetDatabaseHealth)

	unlock := v1.Group("/unlock")
	{
		unlock.GET("/catalog", h.Unlock.Catalog)
		unlock.POST("/code", mw.CodeLimit.Handle(), h.Unlock.UnlockWithCode)
		unlock.POST("/ad", h.Unlock.UnlockWithAd)
		unlock.GET("/ad/assets", h.Unlock.AdAssets)
		unlock.GET("/verify", middleware.CredentialMiddleware(mw.CookieName), h.Unlock.Verify)
	}

	donation := v1.Group("/donation")
	{
		donation.GET("/currency", h.Donation.Currency)
		donation.POST("/create", h.Donation.Create)
		donation.POST("/status", h.Donation.Status)
		donation.GET("/callback", h.Donation.Callback)
		donation.POST("/callback", h.Donation.Callback)
	}

	admin := v1.Group("/admin")
	admin.Use(mw.Admin.Handle())
	{
		admin.POST("/cleanup", h.Admin.Cleanup)
		admin.GET("/donations/:id/stats", h.Admin.DonationStats)
		admin.GET("/donations/:id/logs", h.Admin.OrderLogs)
		admin.GET("/config", h.Admin.ListConfig)
		admin.GET("/config/:key", h.Admin.GetConfig)
		admin.PUT("/config/:key", h.Admin.PutConfig)
		admin.GET("/payment/probe", h.Admin.ProbePayment)
		admin.POST("/payment/probe", h.Admin.ProbePayment)
		admin.POST("/credentials/revoke", h.Admin.RevokeCredential)
	}

	router.NoRoute(func(c *gin.Context) {
		utils.Error(c, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
}
