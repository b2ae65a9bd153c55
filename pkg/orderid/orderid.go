// Package orderid generates and validates the 28-character order identifiers
// used for donation and unlock orders.
//
// Layout: prefix(4) | time(9) | random(12) | checksum(3). Every symbol after
// the prefix comes from a 32-character alphabet without the easily confused
// glyphs 0, O, 1, I and l.
package orderid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Charset is the 32-symbol alphabet of the time, random and checksum segments.
const Charset = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	base        = uint64(len(Charset))
	prefixLen   = 4
	timeLen     = 9
	randomLen   = 12
	checksumLen = 3

	// Length is the fixed length of every identifier.
	Length = prefixLen + timeLen + randomLen + checksumLen
)

// Epoch is the zero point of the time segment, counted in whole seconds.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrInvalidFormat is returned for identifiers with a wrong length, foreign
// symbols or a checksum that does not match.
var ErrInvalidFormat = errors.New("INVALID_ORDER_ID_FORMAT")

// BusinessType selects the identifier prefix.
type BusinessType string

const (
	Donation     BusinessType = "DONATION"
	AdUnlock     BusinessType = "AD_UNLOCK"
	CodeUnlock   BusinessType = "CODE_UNLOCK"
	Subscription BusinessType = "SUBSCRIPTION"
	Unknown      BusinessType = "UNKNOWN"
)

var prefixes = map[BusinessType]string{
	Donation:     "DONA",
	AdUnlock:     "ADUN",
	CodeUnlock:   "COUN",
	Subscription: "SUBS",
}

// Prefix returns the 4-character prefix for a business type.
func Prefix(t BusinessType) (string, bool) {
	p, ok := prefixes[t]
	return p, ok
}

// Info is the decoded form of an identifier.
type Info struct {
	Prefix       string
	BusinessType BusinessType
	Timestamp    time.Time
	RandomPart   string
	Checksum     string
	IsValid      bool
}

// Generator produces identifiers. The zero value is not usable; use New.
type Generator struct {
	now     func() time.Time
	entropy io.Reader
}

// New returns a Generator backed by the wall clock and crypto/rand.
func New() *Generator {
	return &Generator{now: time.Now, entropy: rand.Reader}
}

// NewWithSource returns a Generator with a custom clock and entropy source.
func NewWithSource(now func() time.Time, entropy io.Reader) *Generator {
	return &Generator{now: now, entropy: entropy}
}

var defaultGenerator = New()

// Generate returns a new identifier for the business type using the default generator.
func Generate(t BusinessType) (string, error) {
	return defaultGenerator.Generate(t)
}

// Generate returns a new identifier for the business type.
func (g *Generator) Generate(t BusinessType) (string, error) {
	prefix, ok := prefixes[t]
	if !ok {
		return "", fmt.Errorf("unknown business type %q", t)
	}

	ts, err := encodeTime(g.now())
	if err != nil {
		return "", err
	}

	random, err := g.randomSegment()
	if err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}

	body := prefix + ts + random
	return body + checksum(body), nil
}

// randomSegment draws 12 symbols uniformly. 256 is a multiple of 32, so
// masking the low five bits of each byte has no modulo bias.
func (g *Generator) randomSegment() (string, error) {
	buf := make([]byte, randomLen)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = Charset[b&0x1f]
	}
	return string(buf), nil
}

func encodeTime(now time.Time) (string, error) {
	if now.Before(Epoch) {
		return "", fmt.Errorf("clock %s is before the identifier epoch", now.UTC().Format(time.RFC3339))
	}
	remaining := uint64(now.Sub(Epoch) / time.Second)

	out := make([]byte, timeLen)
	for i := timeLen - 1; i >= 0; i-- {
		out[i] = Charset[remaining%base]
		remaining /= base
	}
	if remaining != 0 {
		return "", errors.New("time segment overflow")
	}
	return string(out), nil
}

func decodeTime(seg string) (time.Time, error) {
	var v uint64
	for i := 0; i < len(seg); i++ {
		idx := strings.IndexByte(Charset, seg[i])
		if idx < 0 {
			return time.Time{}, ErrInvalidFormat
		}
		v = v*base + uint64(idx)
	}
	return time.Unix(Epoch.Unix()+int64(v), 0).UTC(), nil
}

// checksum is a Luhn-style weighted sum over the alphabet values, walked
// right to left with every second value doubled and folded back below 32.
func checksum(input string) string {
	var sum uint64
	double := false
	for i := len(input) - 1; i >= 0; i-- {
		idx := strings.IndexByte(Charset, input[i])
		var v uint64
		if idx < 0 {
			v = uint64(input[i]) % base
		} else {
			v = uint64(idx)
		}
		if double {
			v *= 2
			if v >= base {
				v = v/base + v%base
			}
		}
		sum += v
		double = !double
	}

	c := sum % (base * base * base)
	return string([]byte{
		Charset[c/(base*base)],
		Charset[(c%(base*base))/base],
		Charset[c%base],
	})
}

// Validate reports whether id has the right length, alphabet and checksum.
func Validate(id string) bool {
	if len(id) != Length {
		return false
	}
	// Prefixes are plain uppercase words (DONA, COUN) and may use glyphs the
	// alphabet excludes; the checksum folds those in by ASCII value.
	for i := 0; i < prefixLen; i++ {
		c := id[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	for i := prefixLen; i < len(id); i++ {
		if strings.IndexByte(Charset, id[i]) < 0 {
			return false
		}
	}
	body := id[:Length-checksumLen]
	return id[Length-checksumLen:] == checksum(body)
}

// Parse validates id and decodes its segments.
func Parse(id string) (*Info, error) {
	if !Validate(id) {
		return nil, ErrInvalidFormat
	}

	prefix := id[:prefixLen]
	ts, err := decodeTime(id[prefixLen : prefixLen+timeLen])
	if err != nil {
		return nil, err
	}

	bt := Unknown
	for t, p := range prefixes {
		if p == prefix {
			bt = t
			break
		}
	}

	return &Info{
		Prefix:       prefix,
		BusinessType: bt,
		Timestamp:    ts,
		RandomPart:   id[prefixLen+timeLen : prefixLen+timeLen+randomLen],
		Checksum:     id[Length-checksumLen:],
		IsValid:      true,
	}, nil
}
