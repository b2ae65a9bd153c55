package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pokjoy/qfeng5/internal/credential"
	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
)

// Default credential lifetimes used when system_configs has no entry.
const (
	DefaultAdDuration       = time.Hour
	DefaultCodeDuration     = time.Hour
	DefaultDonationDuration = 30 * 24 * time.Hour
)

// AdPolicy is the advisory watch threshold for the ad path. Reports below
// it are logged and still accepted: completion is reported by the browser
// and cannot be checked server side.
type AdPolicy struct {
	MinSeconds int
	MaxClips   int
}

// AdReport is what the browser says it played.
type AdReport struct {
	WatchedSeconds int `json:"watchedSeconds"`
	Clips          int `json:"clips"`
}

// Issued is a freshly minted credential.
type Issued struct {
	Token     string            `json:"credential"`
	Type      models.UnlockType `json:"type"`
	Slug      string            `json:"slug"`
	ExpiresAt time.Time         `json:"expiresAt"`
	JTI       string            `json:"-"`
}

// RedirectTo is where the visitor goes once unlocked.
func (i *Issued) RedirectTo() string {
	return WorkPath(i.Slug)
}

// Decision reasons.
const (
	ReasonPublic       = "public"
	ReasonCredential   = "credential"
	ReasonUnknownSlug  = "unknown_slug"
	ReasonMissing      = "missing_credential"
	ReasonInvalid      = "invalid_credential"
	ReasonSlugMismatch = "slug_mismatch"
	ReasonRevoked      = "revoked"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed    bool              `json:"allowed"`
	Reason     string            `json:"reason"`
	Slug       string            `json:"slug"`
	Type       models.UnlockType `json:"type,omitempty"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty"`
	RedirectTo string            `json:"redirectTo,omitempty"`
}

// WorkPath is the content page of slug.
func WorkPath(slug string) string {
	return "/work/" + slug
}

// UnlockPath is the unlock page that returns to slug afterwards.
func UnlockPath(slug string) string {
	return "/unlock?next=" + WorkPath(slug)
}

// UnlockService issues and checks unlock credentials.
type UnlockService struct {
	codec    *credential.Codec
	registry CredentialRegistry
	config   *ConfigService
	catalog  *Catalog
	codes    [][]byte
	ad       AdPolicy
	now      func() time.Time
}

// NewUnlockService creates a new UnlockService. registry may be nil.
func NewUnlockService(codec *credential.Codec, registry CredentialRegistry, config *ConfigService, catalog *Catalog, accessCodes []string, ad AdPolicy) *UnlockService {
	codes := make([][]byte, 0, len(accessCodes))
	for _, c := range accessCodes {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, []byte(c))
		}
	}
	return &UnlockService{
		codec:    codec,
		registry: registry,
		config:   config,
		catalog:  catalog,
		codes:    codes,
		ad:       ad,
		now:      time.Now,
	}
}

// Catalog returns the content catalog.
func (s *UnlockService) Catalog() *Catalog {
	return s.catalog
}

func (s *UnlockService) requireSlug(slug string) error {
	if slug == "" {
		return utils.Invalid(utils.ErrInvalidInput, "slug is required")
	}
	if !s.catalog.Known(slug) {
		return utils.Invalid(utils.ErrUnknownSlug, "unknown slug "+slug)
	}
	return nil
}

// UnlockWithCode checks code against the access-code allow-list.
func (s *UnlockService) UnlockWithCode(ctx context.Context, code, slug string) (*Issued, error) {
	if err := s.requireSlug(slug); err != nil {
		return nil, err
	}
	if !s.matchCode(strings.TrimSpace(code)) {
		log.Warn().Str("slug", slug).Msg("Invalid access code")
		return nil, utils.ErrInvalidCode
	}

	ttl, err := s.config.Duration(ctx, KeyCodeDuration, time.Second, DefaultCodeDuration)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, models.UnlockCode, slug, ttl)
}

// matchCode compares against every allowed code so the time taken does not
// reveal which entry, if any, matched.
func (s *UnlockService) matchCode(code string) bool {
	if code == "" {
		return false
	}
	in := []byte(code)
	matched := 0
	for _, allowed := range s.codes {
		matched |= subtle.ConstantTimeCompare(in, allowed)
	}
	return matched == 1
}

// UnlockWithAd trusts the browser's completion report.
func (s *UnlockService) UnlockWithAd(ctx context.Context, slug string, report AdReport) (*Issued, error) {
	if err := s.requireSlug(slug); err != nil {
		return nil, err
	}
	if report.WatchedSeconds < 0 || report.Clips < 0 {
		return nil, utils.Invalid(utils.ErrInvalidInput, "watch report must not be negative")
	}
	if report.WatchedSeconds < s.ad.MinSeconds {
		log.Info().
			Str("slug", slug).
			Int("watched_seconds", report.WatchedSeconds).
			Int("clips", report.Clips).
			Int("min_seconds", s.ad.MinSeconds).
			Msg("Ad unlock reported below watch threshold")
	}

	ttl, err := s.config.Duration(ctx, KeyAdDuration, time.Second, DefaultAdDuration)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, models.UnlockAd, slug, ttl)
}

// IssueDonation mints the credential for a donation settled at paidAt. The
// credential always expires one donation duration after paidAt, so minting
// again for the same order never extends access. Once that window has
// passed it returns utils.ErrCredentialLapsed.
func (s *UnlockService) IssueDonation(ctx context.Context, slug string, paidAt time.Time) (*Issued, error) {
	d, err := s.config.Duration(ctx, KeyDonationDuration, time.Second, DefaultDonationDuration)
	if err != nil {
		return nil, err
	}
	ttl := paidAt.Add(d).Sub(s.now())
	if ttl <= 0 {
		return nil, utils.ErrCredentialLapsed
	}
	return s.issue(ctx, models.UnlockDonation, slug, ttl)
}

func (s *UnlockService) issue(ctx context.Context, t models.UnlockType, slug string, ttl time.Duration) (*Issued, error) {
	token, claims, err := s.codec.Sign(credential.Claims{Type: t, Slug: slug}, ttl)
	if err != nil {
		return nil, err
	}

	if s.registry != nil {
		rec := &models.IssuedCredential{
			JTI:       claims.ID,
			Type:      t,
			Slug:      slug,
			IssuedAt:  claims.IssuedAt.Time,
			ExpiresAt: claims.Expiry(),
		}
		if err := s.registry.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Str("jti", claims.ID).Msg("Failed to record issued credential")
		}
	}

	log.Info().Str("type", string(t)).Str("slug", slug).Str("jti", claims.ID).Time("expires_at", claims.Expiry()).Msg("Credential issued")
	return &Issued{
		Token:     token,
		Type:      t,
		Slug:      slug,
		ExpiresAt: claims.Expiry(),
		JTI:       claims.ID,
	}, nil
}

// Authorize decides whether the bearer of token may view slug.
func (s *UnlockService) Authorize(ctx context.Context, token, slug string) Decision {
	d := Decision{Slug: slug}
	if !s.catalog.Known(slug) {
		d.Reason = ReasonUnknownSlug
		return d
	}
	if !s.catalog.Protected(slug) {
		d.Allowed = true
		d.Reason = ReasonPublic
		return d
	}

	d.RedirectTo = UnlockPath(slug)
	if token == "" {
		d.Reason = ReasonMissing
		return d
	}
	claims, err := s.codec.Verify(token)
	if err != nil {
		d.Reason = ReasonInvalid
		return d
	}
	if claims.Slug != slug {
		d.Reason = ReasonSlugMismatch
		return d
	}

	if s.registry != nil {
		revoked, err := s.registry.IsRevoked(ctx, claims.ID)
		if err != nil {
			log.Warn().Err(err).Str("jti", claims.ID).Msg("Revocation check unavailable")
		} else if revoked {
			d.Reason = ReasonRevoked
			return d
		}
		if err := s.registry.Touch(ctx, claims.ID, s.now()); err != nil {
			log.Debug().Err(err).Str("jti", claims.ID).Msg("Failed to record credential use")
		}
	}

	exp := claims.Expiry()
	d.Allowed = true
	d.Reason = ReasonCredential
	d.Type = claims.Type
	d.ExpiresAt = &exp
	d.RedirectTo = ""
	return d
}

// Revoke marks the credential carried by token as revoked. Only valid
// credentials can be revoked; an expired one needs no revocation.
func (s *UnlockService) Revoke(ctx context.Context, token string) (*credential.Claims, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	if s.registry == nil {
		return nil, utils.ErrServiceUnavailable
	}
	if err := s.registry.Revoke(ctx, claims.ID, claims.Expiry()); err != nil {
		log.Error().Err(err).Str("jti", claims.ID).Msg("Failed to revoke credential")
		return nil, utils.ErrServiceUnavailable
	}
	log.Info().Str("jti", claims.ID).Str("slug", claims.Slug).Msg("Credential revoked")
	return &claims, nil
}
