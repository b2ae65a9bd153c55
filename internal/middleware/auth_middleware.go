package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/pokjoy/qfeng5/internal/config"
	"github.com/pokjoy/qfeng5/internal/utils"
)

// AdminAuthMiddleware guards the operator endpoints with a shared bearer
// secret checked against its bcrypt hash.
type AdminAuthMiddleware struct {
	hash        []byte
	rateLimiter *InvalidCodeRateLimiter
}

// NewAdminAuthMiddleware builds the middleware from the admin config. A
// plain CRON_SECRET is hashed here so the secret itself is not kept.
func NewAdminAuthMiddleware(cfg config.AdminConfig) (*AdminAuthMiddleware, error) {
	hash := []byte(cfg.CronSecretHash)
	if len(hash) == 0 {
		if cfg.CronSecret == "" {
			return nil, errors.New("CRON_SECRET or CRON_SECRET_HASH is required")
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.CronSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, errors.New("CRON_SECRET_HASH is not a bcrypt hash")
	}

	return &AdminAuthMiddleware{
		hash:        hash,
		rateLimiter: NewInvalidCodeRateLimiter(5, 0),
	}, nil
}

// Cleanup drops expired failure windows of the admin lockout until ctx is
// done.
func (m *AdminAuthMiddleware) Cleanup(ctx context.Context, every time.Duration) {
	m.rateLimiter.Cleanup(ctx, every)
}

// Handle returns a Gin middleware function that enforces the admin secret.
func (m *AdminAuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rateLimiter.Blocked(c.ClientIP()) {
			utils.Error(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many invalid authentication attempts")
			c.Abort()
			return
		}

		token := BearerToken(c)
		if token == "" {
			m.handleAuthError(c, "Missing or invalid authorization header")
			return
		}
		if bcrypt.CompareHashAndPassword(m.hash, []byte(token)) != nil {
			m.handleAuthError(c, "Invalid admin secret")
			return
		}

		c.Set("admin", true)
		c.Next()
	}
}

func (m *AdminAuthMiddleware) handleAuthError(c *gin.Context, message string) {
	m.rateLimiter.Fail(c.ClientIP())
	utils.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
	c.Abort()
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
