// Package credential signs and verifies the unlock credentials handed to
// visitors. Verification is stateless: a credential is valid when its
// HS256 signature checks out and its expiry is still in the future.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
)

// Claims is the signed claim set of an unlock credential.
type Claims struct {
	Type models.UnlockType `json:"type"`
	Slug string            `json:"slug"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim, or the zero time when absent.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Codec issues and checks credentials with a shared secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec returns a Codec using the wall clock.
func NewCodec(secret string) (*Codec, error) {
	return NewCodecWithClock(secret, time.Now)
}

// NewCodecWithClock returns a Codec reading time from now.
func NewCodecWithClock(secret string, now func() time.Time) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("credential secret must not be empty")
	}
	return &Codec{secret: []byte(secret), now: now}, nil
}

// Sign issues a credential for claims.Type and claims.Slug valid for ttl.
// Issue time, expiry and id are always set here; any values the caller put
// in the registered claims are discarded.
func (c *Codec) Sign(claims Claims, ttl time.Duration) (string, Claims, error) {
	if !claims.Type.Valid() {
		return "", Claims{}, fmt.Errorf("unknown unlock type %q", claims.Type)
	}
	if claims.Slug == "" {
		return "", Claims{}, errors.New("credential slug must not be empty")
	}
	if ttl < time.Second {
		return "", Claims{}, fmt.Errorf("credential ttl %s is too short", ttl)
	}

	now := c.now().Truncate(time.Second)
	issued := Claims{
		Type: claims.Type,
		Slug: claims.Slug,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, issued).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign credential: %w", err)
	}
	return token, issued, nil
}

// Verify checks the signature and expiry of token. Every failure, whatever
// the cause, is reported as utils.ErrInvalidToken.
func (c *Codec) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, utils.ErrInvalidToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, utils.ErrInvalidToken
	}
	if !claims.Type.Valid() || claims.Slug == "" {
		return Claims{}, utils.ErrInvalidToken
	}
	return claims, nil
}
