package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/pokjoy/qfeng5/internal/service"
	"github.com/pokjoy/qfeng5/internal/utils"
)

const timeLayout = time.RFC3339

// Headers a CDN uses to pass the visitor's country.
var countryHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country", "X-Country-Code"}

// DonationHandler handles the donation unlock path.
type DonationHandler struct {
	donation *service.DonationService
	currency *service.CurrencyService
	cookie   CookieConfig
}

// NewDonationHandler creates a new DonationHandler.
func NewDonationHandler(donation *service.DonationService, currency *service.CurrencyService, cookie CookieConfig) *DonationHandler {
	return &DonationHandler{donation: donation, currency: currency, cookie: cookie}
}

type createDonationRequest struct {
	Slug     string          `json:"slug" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"required"`
}

type statusRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

// Create handles POST /v1/donation/create
func (h *DonationHandler) Create(c *gin.Context) {
	var req createDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "slug, amount and currency are required")
		return
	}
	c.Set("slug", req.Slug)

	res, err := h.donation.CreateDonation(c.Request.Context(), service.CreateDonationRequest{
		Slug:      req.Slug,
		Amount:    req.Amount,
		Currency:  req.Currency,
		UserIP:    c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	})
	if err != nil {
		handleError(c, err)
		return
	}

	utils.Success(c, http.StatusCreated, "Donation order created", gin.H{
		"orderId":    res.OrderID,
		"paymentUrl": res.PaymentURL,
		"expiresAt":  res.ExpiresAt.UTC().Format(timeLayout),
	})
}

// Currency handles GET /v1/donation/currency
func (h *DonationHandler) Currency(c *gin.Context) {
	hint := service.RegionHint{
		Country:        c.Query("country"),
		AcceptLanguage: c.GetHeader("Accept-Language"),
	}
	for _, name := range countryHeaders {
		if v := c.GetHeader(name); v != "" {
			hint.HeaderCountry = v
			break
		}
	}

	quote, err := h.currency.Resolve(c.Request.Context(), hint)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Currency presets", gin.H{
		"ip":           c.ClientIP(),
		"country":      quote.Country,
		"source":       quote.Source,
		"currency":     quote.Currency,
		"symbol":       quote.Symbol,
		"amounts":      quote.Amounts,
		"descriptions": quote.Descriptions,
	})
}

// Status handles POST /v1/donation/status
func (h *DonationHandler) Status(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "orderId is required")
		return
	}

	res, err := h.donation.CheckStatus(c.Request.Context(), req.OrderID)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Order status", res)
}

// Callback handles GET and POST /v1/donation/callback. The payment page
// sends its signed parameters either in the query string or as a form.
func (h *DonationHandler) Callback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "Malformed callback parameters")
		return
	}

	res, err := h.donation.ConfirmDonation(c.Request.Context(), c.Request.Form)
	if err != nil {
		handleError(c, err)
		return
	}
	c.Set("slug", res.Slug)

	data := gin.H{
		"orderId": res.OrderID,
		"status":  res.Status,
		"slug":    res.Slug,
	}
	if res.Credential != nil {
		h.cookie.set(c, res.Credential)
		data["credential"] = res.Credential.Token
		data["expiresAt"] = res.Credential.ExpiresAt.UTC().Format(timeLayout)
		data["redirectTo"] = res.RedirectTo
	}
	utils.Success(c, http.StatusOK, "Callback processed", data)
}
