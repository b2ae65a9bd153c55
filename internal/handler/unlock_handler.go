package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pokjoy/qfeng5/internal/middleware"
	"github.com/pokjoy/qfeng5/internal/service"
	"github.com/pokjoy/qfeng5/internal/utils"
)

// UnlockHandler handles the ad and access-code unlock paths and credential checks.
type UnlockHandler struct {
	unlock  *service.UnlockService
	media   *service.MediaService
	limiter *middleware.InvalidCodeRateLimiter
	cookie  CookieConfig
}

// NewUnlockHandler creates a new UnlockHandler.
func NewUnlockHandler(unlock *service.UnlockService, media *service.MediaService, limiter *middleware.InvalidCodeRateLimiter, cookie CookieConfig) *UnlockHandler {
	return &UnlockHandler{
		unlock:  unlock,
		media:   media,
		limiter: limiter,
		cookie:  cookie,
	}
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

type adRequest struct {
	Slug           string `json:"slug" binding:"required"`
	WatchedSeconds int    `json:"watchedSeconds"`
	Clips          int    `json:"clips"`
}

type credentialResponse struct {
	Credential string `json:"credential"`
	Type       string `json:"type"`
	Slug       string `json:"slug"`
	ExpiresAt  string `json:"expiresAt"`
	RedirectTo string `json:"redirectTo"`
}

func toCredentialResponse(issued *service.Issued) credentialResponse {
	return credentialResponse{
		Credential: issued.Token,
		Type:       string(issued.Type),
		Slug:       issued.Slug,
		ExpiresAt:  issued.ExpiresAt.UTC().Format(timeLayout),
		RedirectTo: issued.RedirectTo(),
	}
}

// UnlockWithCode handles POST /v1/unlock/code
func (h *UnlockHandler) UnlockWithCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "code and slug are required")
		return
	}
	c.Set("slug", req.Slug)

	issued, err := h.unlock.UnlockWithCode(c.Request.Context(), req.Code, req.Slug)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidCode) && h.limiter != nil && !h.limiter.Fail(c.ClientIP()) {
			utils.Error(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many invalid access code attempts")
			return
		}
		handleError(c, err)
		return
	}

	h.cookie.set(c, issued)
	utils.Success(c, http.StatusOK, "Content unlocked", toCredentialResponse(issued))
}

// UnlockWithAd handles POST /v1/unlock/ad
func (h *UnlockHandler) UnlockWithAd(c *gin.Context) {
	var req adRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "slug is required")
		return
	}
	c.Set("slug", req.Slug)

	issued, err := h.unlock.UnlockWithAd(c.Request.Context(), req.Slug, service.AdReport{
		WatchedSeconds: req.WatchedSeconds,
		Clips:          req.Clips,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	h.cookie.set(c, issued)
	utils.Success(c, http.StatusOK, "Content unlocked", toCredentialResponse(issued))
}

// AdAssets handles GET /v1/unlock/ad/assets
func (h *UnlockHandler) AdAssets(c *gin.Context) {
	assets := h.media.AdAssets(c.Request.Context())
	msg := "Ad videos available"
	if !assets.Available {
		msg = "No ad videos available"
	}
	utils.Success(c, http.StatusOK, msg, assets)
}

// Verify handles GET /v1/unlock/verify?slug=
func (h *UnlockHandler) Verify(c *gin.Context) {
	slug := c.Query("slug")
	if slug == "" {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "slug is required")
		return
	}
	c.Set("slug", slug)

	d := h.unlock.Authorize(c.Request.Context(), middleware.GetCredential(c), slug)
	switch {
	case d.Allowed:
		utils.Success(c, http.StatusOK, "Access granted", d)
	case d.Reason == service.ReasonUnknownSlug:
		utils.Error(c, http.StatusNotFound, "UNKNOWN_SLUG", "Unknown content")
	default:
		utils.Deny(c, http.StatusUnauthorized, "UNAUTHORIZED", denyMessage(d.Reason), d.RedirectTo)
	}
}

// Catalog handles GET /v1/unlock/catalog
func (h *UnlockHandler) Catalog(c *gin.Context) {
	utils.Success(c, http.StatusOK, "Content catalog", h.unlock.Catalog().Entries())
}

func denyMessage(reason string) string {
	switch reason {
	case service.ReasonMissing:
		return "Unlock required"
	case service.ReasonSlugMismatch:
		return "Credential was issued for other content"
	case service.ReasonRevoked:
		return "Credential has been revoked"
	default:
		return "Credential is invalid or expired"
	}
}
