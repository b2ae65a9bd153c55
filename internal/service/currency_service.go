package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
)

// CurrencyPreset is the donation currency and suggested amounts shown to
// visitors of one region.
type CurrencyPreset struct {
	Currency     string            `json:"currency"`
	Symbol       string            `json:"symbol"`
	Amounts      []decimal.Decimal `json:"amounts"`
	Descriptions []string          `json:"descriptions"`
}

// CurrencyPresets is the value stored under currency.presets. Aliases map a
// country code onto a shared region such as EU.
type CurrencyPresets struct {
	Default string                    `json:"default"`
	Aliases map[string]string         `json:"aliases"`
	Regions map[string]CurrencyPreset `json:"regions"`
}

// Sources of a resolved region.
const (
	RegionFromQuery    = "query"
	RegionFromHeader   = "header"
	RegionFromLanguage = "language"
	RegionFromDefault  = "default"
)

func amounts(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

var (
	cnDescriptions    = []string{"一杯咖啡☕", "一份午餐🍜", "支持创作💪", "深度支持🎯"}
	otherDescriptions = []string{"咖啡☕", "午餐🍜", "支持💪", "深度支持🎯"}
)

// DefaultCurrencyPresets is used when currency.presets is not configured.
var DefaultCurrencyPresets = CurrencyPresets{
	Default: "CN",
	Aliases: map[string]string{
		"DE": "EU", "FR": "EU", "IT": "EU", "ES": "EU", "NL": "EU", "BE": "EU",
		"TW": "HK",
	},
	Regions: map[string]CurrencyPreset{
		"CN": {Currency: "CNY", Symbol: "¥", Amounts: amounts("9.9", "19.9", "49.9", "99.9"), Descriptions: cnDescriptions},
		"US": {Currency: "USD", Symbol: "$", Amounts: amounts("1.99", "4.99", "9.99", "19.99"), Descriptions: otherDescriptions},
		"EU": {Currency: "EUR", Symbol: "€", Amounts: amounts("1.99", "4.99", "9.99", "19.99"), Descriptions: otherDescriptions},
		"GB": {Currency: "GBP", Symbol: "£", Amounts: amounts("1.99", "3.99", "7.99", "15.99"), Descriptions: otherDescriptions},
		"JP": {Currency: "JPY", Symbol: "¥", Amounts: amounts("200", "500", "1000", "2000"), Descriptions: otherDescriptions},
		"HK": {Currency: "HKD", Symbol: "HK$", Amounts: amounts("15", "30", "75", "150"), Descriptions: otherDescriptions},
		"SG": {Currency: "SGD", Symbol: "S$", Amounts: amounts("2.99", "6.99", "13.99", "27.99"), Descriptions: otherDescriptions},
		"AU": {Currency: "AUD", Symbol: "A$", Amounts: amounts("2.99", "6.99", "13.99", "27.99"), Descriptions: otherDescriptions},
		"CA": {Currency: "CAD", Symbol: "C$", Amounts: amounts("2.99", "6.99", "13.99", "27.99"), Descriptions: otherDescriptions},
	},
}

// RegionHint carries what a request reveals about the visitor's region.
type RegionHint struct {
	// Country is an explicit override, e.g. from the query string.
	Country string
	// HeaderCountry is the country code set by the CDN in front of the API.
	HeaderCountry  string
	AcceptLanguage string
}

// CurrencyQuote is the preset chosen for one visitor.
type CurrencyQuote struct {
	Country string `json:"country"`
	Source  string `json:"source"`
	CurrencyPreset
}

// CurrencyService picks the donation currency and preset amounts for a
// visitor.
type CurrencyService struct {
	config *ConfigService
}

// NewCurrencyService creates a new CurrencyService.
func NewCurrencyService(config *ConfigService) *CurrencyService {
	return &CurrencyService{config: config}
}

// Presets returns the configured presets, or the built-in ones when the key
// is missing.
func (s *CurrencyService) Presets(ctx context.Context) (CurrencyPresets, error) {
	var p CurrencyPresets
	ok, err := s.config.JSON(ctx, KeyCurrencyPresets, &p)
	if err != nil {
		return CurrencyPresets{}, err
	}
	if !ok || len(p.Regions) == 0 {
		return DefaultCurrencyPresets, nil
	}
	if p.Default == "" {
		p.Default = DefaultCurrencyPresets.Default
	}
	return p, nil
}

// Resolve picks a region from the hint: the explicit country first, then the
// CDN header, then Accept-Language. Regions whose currency is not in
// currency.supported are skipped. When nothing matches the default region
// is used.
func (s *CurrencyService) Resolve(ctx context.Context, hint RegionHint) (*CurrencyQuote, error) {
	presets, err := s.Presets(ctx)
	if err != nil {
		return nil, err
	}
	supported, err := s.config.Strings(ctx, KeySupportedCurrency, DefaultCurrencies)
	if err != nil {
		return nil, err
	}

	pick := func(country, source string) *CurrencyQuote {
		country = strings.ToUpper(strings.TrimSpace(country))
		if country == "" {
			return nil
		}
		region := country
		if alias, ok := presets.Aliases[country]; ok {
			region = alias
		}
		preset, ok := presets.Regions[region]
		if !ok || !containsFold(supported, preset.Currency) {
			return nil
		}
		return &CurrencyQuote{Country: region, Source: source, CurrencyPreset: preset}
	}

	if q := pick(hint.Country, RegionFromQuery); q != nil {
		return q, nil
	}
	if q := pick(hint.HeaderCountry, RegionFromHeader); q != nil {
		return q, nil
	}
	for _, country := range languageRegions(hint.AcceptLanguage) {
		if q := pick(country, RegionFromLanguage); q != nil {
			return q, nil
		}
	}

	q := pick(presets.Default, RegionFromDefault)
	if q == nil {
		log.Error().Str("default", presets.Default).Msg("Default currency region is missing or unsupported")
		q = &CurrencyQuote{Country: DefaultCurrencyPresets.Default, Source: RegionFromDefault, CurrencyPreset: DefaultCurrencyPresets.Regions[DefaultCurrencyPresets.Default]}
	}
	return q, nil
}

// languageRegions returns the region of each Accept-Language tag in
// preference order. Traditional Chinese maps to TW.
func languageRegions(header string) []string {
	if header == "" {
		return nil
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		region, conf := tag.Region()
		if conf == language.No {
			continue
		}
		out = append(out, region.String())
	}
	return out
}
