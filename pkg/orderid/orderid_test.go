package orderid

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerateLayout(t *testing.T) {
	now := time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)
	g := NewWithSource(fixedClock(now), bytes.NewReader(bytes.Repeat([]byte{0x01}, randomLen)))

	id, err := g.Generate(Donation)
	require.NoError(t, err)
	assert.Len(t, id, Length)
	assert.True(t, strings.HasPrefix(id, "DONA"))
	assert.Equal(t, strings.Repeat("3", randomLen), id[prefixLen+timeLen:prefixLen+timeLen+randomLen])

	info, err := Parse(id)
	require.NoError(t, err)
	assert.True(t, info.IsValid)
	assert.Equal(t, Donation, info.BusinessType)
	assert.Equal(t, "DONA", info.Prefix)
	assert.True(t, info.Timestamp.Equal(now), "timestamp %s != %s", info.Timestamp, now)
}

func TestGenerateAllBusinessTypes(t *testing.T) {
	for bt, prefix := range prefixes {
		id, err := Generate(bt)
		require.NoError(t, err)
		info, err := Parse(id)
		require.NoError(t, err, id)
		assert.Equal(t, prefix, info.Prefix)
		assert.Equal(t, bt, info.BusinessType)
	}

	_, err := Generate(BusinessType("REFUND"))
	assert.Error(t, err)
}

func TestGenerateRoundTrip(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 2000; i++ {
		id, err := Generate(Donation)
		require.NoError(t, err)
		assert.True(t, Validate(id), id)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestTimeSegmentIsChronological(t *testing.T) {
	entropy := bytes.NewReader(make([]byte, 2*randomLen))
	earlier := NewWithSource(fixedClock(Epoch.Add(90*24*time.Hour)), entropy)
	later := NewWithSource(fixedClock(Epoch.Add(91*24*time.Hour)), entropy)

	a, err := earlier.Generate(Donation)
	require.NoError(t, err)
	b, err := later.Generate(Donation)
	require.NoError(t, err)

	assert.Less(t, a[prefixLen:prefixLen+timeLen], b[prefixLen:prefixLen+timeLen])
}

func TestGenerateBeforeEpoch(t *testing.T) {
	g := NewWithSource(fixedClock(Epoch.Add(-time.Second)), bytes.NewReader(make([]byte, randomLen)))
	_, err := g.Generate(Donation)
	assert.Error(t, err)
}

func TestSingleSymbolMutationIsDetected(t *testing.T) {
	for n := 0; n < 20; n++ {
		id, err := Generate(Donation)
		require.NoError(t, err)

		// Every position after the prefix is drawn from the alphabet, where the
		// weighted sum maps each substitution to a different contribution.
		for pos := prefixLen; pos < Length; pos++ {
			for i := 0; i < len(Charset); i++ {
				c := Charset[i]
				if c == id[pos] {
					continue
				}
				mutated := id[:pos] + string(c) + id[pos+1:]
				assert.False(t, Validate(mutated), "mutation at %d accepted: %s", pos, mutated)
			}
		}
	}
}

func TestPrefixMutationDetectionRate(t *testing.T) {
	id, err := Generate(Subscription)
	require.NoError(t, err)

	for pos := 0; pos < prefixLen; pos++ {
		var tried, detected int
		for c := byte('A'); c <= 'Z'; c++ {
			if c == id[pos] {
				continue
			}
			tried++
			if !Validate(id[:pos] + string(c) + id[pos+1:]) {
				detected++
			}
		}
		assert.GreaterOrEqual(t, float64(detected)/float64(tried), 1-2.0/float64(tried),
			"position %d detected %d of %d", pos, detected, tried)
	}
}

func TestParseRejects(t *testing.T) {
	id, err := Generate(Donation)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"short":          id[:Length-1],
		"long":           id + "2",
		"lowercase tail": id[:Length-1] + "a",
		"excluded glyph": id[:10] + "0" + id[11:],
		"bad checksum":   id[:Length-3] + flip(id[Length-3:]),
		"prefix symbol":  "D-NA" + id[4:],
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			info, err := Parse(in)
			assert.Nil(t, info)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestChecksumKnownValue(t *testing.T) {
	// Only the prefix carries weight. With 25 symbols walked from the right,
	// A (8) and O (79%32=15) are doubled while N (20) and D (11) are not.
	body := "DONA" + strings.Repeat("2", timeLen+randomLen)
	want := uint64(16 + 20 + 30 + 11)
	got := checksum(body)
	assert.Equal(t, string([]byte{Charset[want/1024], Charset[(want%1024)/32], Charset[want%32]}), got)
}

func flip(s string) string {
	b := []byte(s)
	if b[0] == '2' {
		b[0] = '3'
	} else {
		b[0] = '2'
	}
	return string(b)
}
