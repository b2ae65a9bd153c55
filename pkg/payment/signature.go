package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// SignatureParam is the query parameter that carries a params signature.
const SignatureParam = "signature"

// CanonicalParams renders params as key=value pairs sorted by key and joined
// with '&'. The signature parameter itself is skipped. Values are used
// unescaped so both sides sign the same text regardless of URL encoding.
func CanonicalParams(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}

// SignParams returns the hex HMAC-SHA256 of the canonical form of params.
func SignParams(params url.Values, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalParams(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyParams checks the signature parameter carried inside params.
func VerifyParams(params url.Values, secret string) bool {
	sig := params.Get(SignatureParam)
	if sig == "" {
		return false
	}
	expected := SignParams(params, secret)
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}
