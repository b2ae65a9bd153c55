package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/service"
	"github.com/pokjoy/qfeng5/internal/utils"
	"github.com/pokjoy/qfeng5/internal/worker"
	"github.com/pokjoy/qfeng5/pkg/payment"
)

// Sweeper runs an on-demand expiry sweep.
type Sweeper interface {
	RunOnce(ctx context.Context) worker.SweepResult
}

// AdminHandler handles the operator endpoints.
type AdminHandler struct {
	donation *service.DonationService
	unlock   *service.UnlockService
	config   *service.ConfigService
	sweeper  Sweeper
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(donation *service.DonationService, unlock *service.UnlockService, config *service.ConfigService, sweeper Sweeper) *AdminHandler {
	return &AdminHandler{
		donation: donation,
		unlock:   unlock,
		config:   config,
		sweeper:  sweeper,
	}
}

// Cleanup handles POST /v1/admin/cleanup
func (h *AdminHandler) Cleanup(c *gin.Context) {
	res := h.sweeper.RunOnce(c.Request.Context())
	if !res.OK() {
		utils.ErrorWithData(c, http.StatusInternalServerError, "CLEANUP_FAILED", "Cleanup finished with errors", res)
		return
	}
	utils.Success(c, http.StatusOK, "Cleanup completed", res)
}

// DonationStats handles GET /v1/admin/donations/:id/stats where id is a slug.
func (h *AdminHandler) DonationStats(c *gin.Context) {
	stats, err := h.donation.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Donation stats", stats)
}

// OrderLogs handles GET /v1/admin/donations/:id/logs where id is an order id.
func (h *AdminHandler) OrderLogs(c *gin.Context) {
	logs, err := h.donation.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if logs == nil {
		logs = []models.PaymentLogEntry{}
	}
	utils.Success(c, http.StatusOK, "Order logs", logs)
}

type configResponse struct {
	Key         string            `json:"key"`
	Type        models.ConfigType `json:"type"`
	Value       interface{}       `json:"value"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	UpdatedBy   string            `json:"updatedBy"`
	UpdatedAt   string            `json:"updatedAt"`
}

func toConfigResponse(row *models.SystemConfig, v models.ConfigValue) configResponse {
	return configResponse{
		Key:         row.Key,
		Type:        row.Type,
		Value:       v.Interface(),
		Category:    row.Category,
		Description: row.Description,
		UpdatedBy:   row.UpdatedBy,
		UpdatedAt:   row.UpdatedAt.UTC().Format(timeLayout),
	}
}

// ListConfig handles GET /v1/admin/config?category=
func (h *AdminHandler) ListConfig(c *gin.Context) {
	rows, err := h.config.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		handleError(c, err)
		return
	}

	out := make([]configResponse, 0, len(rows))
	for i := range rows {
		v, err := rows[i].Decode()
		if err != nil {
			// surface the raw text so an operator can repair it
			v = models.StringValue(rows[i].Value)
		}
		out = append(out, toConfigResponse(&rows[i], v))
	}
	utils.Success(c, http.StatusOK, "Config list", out)
}

// GetConfig handles GET /v1/admin/config/:key
func (h *AdminHandler) GetConfig(c *gin.Context) {
	row, v, err := h.config.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Config value", toConfigResponse(row, v))
}

type putConfigRequest struct {
	Value       json.RawMessage   `json:"value" binding:"required"`
	Type        models.ConfigType `json:"type"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	UpdatedBy   string            `json:"updatedBy"`
}

// PutConfig handles PUT /v1/admin/config/:key
func (h *AdminHandler) PutConfig(c *gin.Context) {
	var req putConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "value is required")
		return
	}
	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = "admin"
	}

	row, v, err := h.config.Set(c.Request.Context(), service.SetRequest{
		Key:         c.Param("key"),
		Type:        req.Type,
		Value:       req.Value,
		Category:    req.Category,
		Description: req.Description,
		UpdatedBy:   updatedBy,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Config updated", toConfigResponse(row, v))
}

type probeRequest struct {
	Endpoint      string `json:"endpoint"`
	TimeoutMs     int    `json:"timeout"`
	RetryAttempts int    `json:"retryAttempts"`
}

// ProbePayment handles GET and POST /v1/admin/payment/probe. POST accepts
// a custom endpoint, timeout in milliseconds and attempt count.
func (h *AdminHandler) ProbePayment(c *gin.Context) {
	var opts payment.ProbeOptions
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		var req probeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "Malformed probe options")
			return
		}
		if req.TimeoutMs < 0 || req.RetryAttempts < 0 || req.RetryAttempts > 5 {
			utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "timeout must be positive and retryAttempts at most 5")
			return
		}
		opts = payment.ProbeOptions{
			Endpoint:      req.Endpoint,
			Timeout:       time.Duration(req.TimeoutMs) * time.Millisecond,
			RetryAttempts: req.RetryAttempts,
		}
	}

	st := h.donation.ProbePayment(c.Request.Context(), opts)
	if !st.Available {
		utils.ErrorWithData(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Payment service is unavailable", st)
		return
	}
	utils.Success(c, http.StatusOK, "Payment service is available", st)
}

type revokeRequest struct {
	Credential string `json:"credential" binding:"required"`
}

// RevokeCredential handles POST /v1/admin/credentials/revoke
func (h *AdminHandler) RevokeCredential(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "credential is required")
		return
	}

	claims, err := h.unlock.Revoke(c.Request.Context(), req.Credential)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Credential revoked", gin.H{
		"jti":       claims.ID,
		"slug":      claims.Slug,
		"type":      claims.Type,
		"expiresAt": claims.Expiry().UTC().Format(timeLayout),
	})
}
