package middleware

import (
	"github.com/gin-gonic/gin"
)

const credentialKey = "credential"

// CredentialMiddleware extracts the unlock credential from the cookie or,
// failing that, from a bearer header. It never rejects a request; the
// handler decides what a missing credential means.
func CredentialMiddleware(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			token = BearerToken(c)
		}
		if token != "" {
			c.Set(credentialKey, token)
		}
		c.Next()
	}
}

// GetCredential returns the credential found by CredentialMiddleware.
func GetCredential(c *gin.Context) string {
	return c.GetString(credentialKey)
}
