package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pokjoy/qfeng5/internal/utils"
)

// handleError maps service errors to the response envelope.
func handleError(c *gin.Context, err error) {
	var inputErr *utils.InputError
	switch {
	case errors.As(err, &inputErr):
		msg := inputErr.Message
		if msg == "" {
			msg = "Invalid request"
		}
		utils.Error(c, http.StatusBadRequest, inputErr.Code.Error(), msg)
	case errors.Is(err, utils.ErrInvalidAmount):
		utils.Error(c, http.StatusBadRequest, "INVALID_AMOUNT", "Amount is out of range")
	case errors.Is(err, utils.ErrUnknownSlug):
		utils.Error(c, http.StatusBadRequest, "UNKNOWN_SLUG", "Unknown content")
	case errors.Is(err, utils.ErrUnsupportedCurrency):
		utils.Error(c, http.StatusBadRequest, "UNSUPPORTED_CURRENCY", "Currency is not supported")
	case errors.Is(err, utils.ErrInvalidInput):
		utils.Error(c, http.StatusBadRequest, "INVALID_INPUT", "Invalid request")
	case errors.Is(err, utils.ErrInvalidCode):
		utils.Error(c, http.StatusUnauthorized, "INVALID_CODE", "Access code is not valid")
	case errors.Is(err, utils.ErrInvalidToken):
		utils.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Credential is invalid or expired")
	case errors.Is(err, utils.ErrInvalidSignature):
		utils.Error(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "Signature verification failed")
	case errors.Is(err, utils.ErrOrderNotFound):
		utils.Error(c, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found")
	case errors.Is(err, utils.ErrConfigNotFound):
		utils.Error(c, http.StatusNotFound, "CONFIG_NOT_FOUND", "Config key not found")
	case errors.Is(err, utils.ErrInvalidTransition):
		utils.Error(c, http.StatusConflict, "INVALID_TRANSITION", "Order can no longer change status")
	case errors.Is(err, utils.ErrDuplicateOrderID):
		utils.Error(c, http.StatusConflict, "DUPLICATE_ORDER_ID", "Could not allocate an order id, please retry")
	case errors.Is(err, utils.ErrPaymentDisabled):
		utils.Error(c, http.StatusServiceUnavailable, "PAYMENT_DISABLED", "Donations are currently disabled")
	case errors.Is(err, utils.ErrServiceUnavailable):
		utils.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Payment service is unavailable, please try again later")
	case errors.Is(err, utils.ErrStoreUnavailable):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Store unavailable")
		utils.Error(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage is temporarily unavailable")
	case errors.Is(err, utils.ErrConfigCorrupt):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Corrupt configuration")
		utils.Error(c, http.StatusInternalServerError, "CONFIG_CORRUPT", "Server configuration is invalid")
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled error")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
