package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pokjoy/qfeng5/internal/service"
)

// CookieConfig controls the credential cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

func (cc CookieConfig) set(c *gin.Context, issued *service.Issued) {
	maxAge := int(time.Until(issued.ExpiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cc.Name, issued.Token, maxAge, "/", "", cc.Secure, true)
}
