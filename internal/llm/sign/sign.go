// Package sign implements the small request-signing primitives the vendor
// web-chat frontends use to authenticate their own requests: an MD5
// digest over a fixed field order (GLM), and HMAC-SHA256 over a
// timestamped string (MiniMax, Z.ai). These are the same primitives the
// pack's own credential/integrity code builds on directly from
// crypto/hmac and crypto/md5 rather than a third-party wrapper — there is
// no ecosystem library for a vendor-specific signing scheme, only the
// standard primitives it's composed from.
package sign

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// MD5Hex returns the lowercase hex MD5 digest of the concatenation of
// parts, in the order given. GLM's web client signs a request by joining
// a handful of fields with no separator and hashing the result.
func MD5Hex(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SortedFormMD5 builds a GLM-style signature over a set of form fields:
// sort the keys, join as "key=value" with '&', MD5 the result with
// secret appended.
func SortedFormMD5(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fields[k])
	}
	sb.WriteString(secret)
	return MD5Hex(sb.String())
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of message under key.
func HMACSHA256Hex(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// TimestampedHMAC builds the MiniMax/Z.ai style signature: HMAC-SHA256
// over "prefix\ntimestamp" (or any caller-assembled payload that already
// embeds the epoch window), returned as lowercase hex.
func TimestampedHMAC(key, prefix string, timestamp int64) string {
	payload := fmt.Sprintf("%s\n%d", prefix, timestamp)
	return HMACSHA256Hex(key, payload)
}

// TwoLayerHMAC implements Z.ai's nested signing scheme: an inner
// HMAC-SHA256 keyed by the app secret over the request path and epoch
// window produces an intermediate key, which is then used to sign the
// request body. Z.ai rotates the epoch window every 5 minutes, so two
// requests issued less than 5 minutes apart reuse the same inner key.
func TwoLayerHMAC(appSecret, path string, epochWindow int64, body string) string {
	inner := HMACSHA256Hex(appSecret, fmt.Sprintf("%s:%d", path, epochWindow))
	return HMACSHA256Hex(inner, body)
}
