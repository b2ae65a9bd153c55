package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
)

// Runtime configuration keys seeded by the migrations.
const (
	KeyPaymentEnabled    = "payment.enabled"
	KeyPaymentTestMode   = "payment.test_mode"
	KeyAdDuration        = "unlock.ad_duration"
	KeyCodeDuration      = "unlock.code_duration"
	KeyDonationDuration  = "unlock.donation_duration"
	KeyOrderExpiry       = "order.expiry_minutes"
	KeySupportedCurrency = "currency.supported"
	KeyCurrencyPresets   = "currency.presets"
	KeyAnalyticsEnabled  = "analytics.enabled"
	KeyCleanupEnabled    = "cleanup.auto_enabled"
	KeySiteName          = "site.name"
)

// ConfigService reads and writes typed runtime configuration. Missing keys
// fall back to the caller's default; stored values that do not decode are
// reported as utils.ErrConfigCorrupt.
type ConfigService struct {
	store ConfigStore
}

// NewConfigService creates a new ConfigService.
func NewConfigService(store ConfigStore) *ConfigService {
	return &ConfigService{store: store}
}

// Get returns the row for key together with its decoded value.
func (s *ConfigService) Get(ctx context.Context, key string) (*models.SystemConfig, models.ConfigValue, error) {
	row, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, models.ConfigValue{}, err
	}
	v, err := row.Decode()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Stored config value is corrupt")
		return row, models.ConfigValue{}, fmt.Errorf("%w: %s: %v", utils.ErrConfigCorrupt, key, err)
	}
	return row, v, nil
}

// List returns every row, optionally limited to one category.
func (s *ConfigService) List(ctx context.Context, category string) ([]models.SystemConfig, error) {
	return s.store.List(ctx, category)
}

func (s *ConfigService) lookup(ctx context.Context, key string, want models.ConfigType) (models.ConfigValue, bool, error) {
	_, v, err := s.Get(ctx, key)
	if errors.Is(err, utils.ErrConfigNotFound) {
		return models.ConfigValue{}, false, nil
	}
	if err != nil {
		return models.ConfigValue{}, false, err
	}
	if v.Type != want {
		return models.ConfigValue{}, false, fmt.Errorf("%w: %s is %s, want %s", utils.ErrConfigCorrupt, key, v.Type, want)
	}
	return v, true, nil
}

// Bool returns a boolean setting.
func (s *ConfigService) Bool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := s.lookup(ctx, key, models.ConfigBoolean)
	if err != nil || !ok {
		return def, err
	}
	return v.Bool, nil
}

// Number returns a numeric setting.
func (s *ConfigService) Number(ctx context.Context, key string, def float64) (float64, error) {
	v, ok, err := s.lookup(ctx, key, models.ConfigNumber)
	if err != nil || !ok {
		return def, err
	}
	return v.Number, nil
}

// Duration returns a numeric setting expressed in units of unit. Values that
// are negative, zero or not whole numbers are corrupt.
func (s *ConfigService) Duration(ctx context.Context, key string, unit, def time.Duration) (time.Duration, error) {
	v, ok, err := s.lookup(ctx, key, models.ConfigNumber)
	if err != nil || !ok {
		return def, err
	}
	if v.Number <= 0 || v.Number != math.Trunc(v.Number) || v.Number > float64(math.MaxInt64/int64(unit)) {
		return def, fmt.Errorf("%w: %s must be a positive whole number, got %v", utils.ErrConfigCorrupt, key, v.Number)
	}
	return time.Duration(v.Number) * unit, nil
}

// Strings returns a json setting holding a list of strings.
func (s *ConfigService) Strings(ctx context.Context, key string, def []string) ([]string, error) {
	v, ok, err := s.lookup(ctx, key, models.ConfigJSON)
	if err != nil || !ok {
		return def, err
	}
	var out []string
	if err := json.Unmarshal(v.JSON, &out); err != nil {
		return def, fmt.Errorf("%w: %s: %v", utils.ErrConfigCorrupt, key, err)
	}
	return out, nil
}

// JSON decodes a json setting into dst. It reports false when the key is
// missing, leaving dst untouched.
func (s *ConfigService) JSON(ctx context.Context, key string, dst any) (bool, error) {
	v, ok, err := s.lookup(ctx, key, models.ConfigJSON)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(v.JSON, dst); err != nil {
		return false, fmt.Errorf("%w: %s: %v", utils.ErrConfigCorrupt, key, err)
	}
	return true, nil
}

// SetRequest is an operator update of one key.
type SetRequest struct {
	Key         string
	Type        models.ConfigType
	Value       json.RawMessage
	Category    string
	Description string
	UpdatedBy   string
}

// Set validates and stores a value. When Type is empty the existing row's
// type is kept; a new key must name its type.
func (s *ConfigService) Set(ctx context.Context, req SetRequest) (*models.SystemConfig, models.ConfigValue, error) {
	if req.Key == "" {
		return nil, models.ConfigValue{}, utils.Invalid(utils.ErrInvalidInput, "key is required")
	}

	t := req.Type
	if t == "" {
		existing, err := s.store.Get(ctx, req.Key)
		switch {
		case errors.Is(err, utils.ErrConfigNotFound):
			return nil, models.ConfigValue{}, utils.Invalid(utils.ErrInvalidInput, "type is required for a new key")
		case err != nil:
			return nil, models.ConfigValue{}, err
		}
		t = existing.Type
	}

	v, err := models.ParseConfigInput(t, req.Value)
	if err != nil {
		return nil, models.ConfigValue{}, utils.Invalid(utils.ErrInvalidInput, fmt.Sprintf("value is not a valid %s", t))
	}

	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = "system"
	}
	row := &models.SystemConfig{
		Key:         req.Key,
		Value:       v.Encode(),
		Type:        t,
		Category:    req.Category,
		Description: req.Description,
		UpdatedBy:   updatedBy,
	}
	if err := s.store.Upsert(ctx, row); err != nil {
		return nil, models.ConfigValue{}, err
	}

	log.Info().Str("key", req.Key).Str("updated_by", updatedBy).Msg("Config updated")
	return row, v, nil
}
