package utils

import "errors"

// Common application errors used across services.
var (
	ErrInvalidInput        = errors.New("INVALID_INPUT")
	ErrInvalidAmount       = errors.New("INVALID_AMOUNT")
	ErrUnknownSlug         = errors.New("UNKNOWN_SLUG")
	ErrUnsupportedCurrency = errors.New("UNSUPPORTED_CURRENCY")
	ErrInvalidCode         = errors.New("INVALID_CODE")
	ErrInvalidToken        = errors.New("INVALID_TOKEN")
	ErrInvalidSignature    = errors.New("INVALID_SIGNATURE")
	ErrDuplicateOrderID    = errors.New("DUPLICATE_ORDER_ID")
	ErrInvalidTransition   = errors.New("INVALID_TRANSITION")
	ErrOrderNotFound       = errors.New("ORDER_NOT_FOUND")
	ErrPaymentDisabled     = errors.New("PAYMENT_DISABLED")
	ErrServiceUnavailable  = errors.New("SERVICE_UNAVAILABLE")
	ErrStoreUnavailable    = errors.New("STORE_UNAVAILABLE")
	ErrConfigNotFound      = errors.New("CONFIG_NOT_FOUND")
	ErrConfigCorrupt       = errors.New("CONFIG_CORRUPT")
	ErrCredentialLapsed    = errors.New("CREDENTIAL_LAPSED")
)

// InputError is a validation failure that still matches ErrInvalidInput
// while carrying a more specific code.
type InputError struct {
	Code    error
	Message string
}

func (e *InputError) Error() string {
	if e.Message == "" {
		return e.Code.Error()
	}
	return e.Code.Error() + ": " + e.Message
}

// Is lets errors.Is match both ErrInvalidInput and the specific code.
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput || target == e.Code
}

// Invalid returns an InputError for code with a human-readable message.
func Invalid(code error, message string) error {
	return &InputError{Code: code, Message: message}
}
