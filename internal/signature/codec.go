// Package signature implements the HMAC request-signing protocol used
// between trusted services.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Header names carrying the service identity on every signed request.
const (
	HeaderServiceToken = "X-Service-Token"
	HeaderServiceID    = "X-Service-ID"
	HeaderTimestamp    = "X-Timestamp"
	HeaderSignature    = "X-Signature"
)

// Canonical builds the signing string:
// "{METHOD}|{path}|{body}|{service_id}|{timestamp}".
// The method is upper-cased; path must not carry a query string.
func Canonical(method, path string, body []byte, serviceID, timestamp string) string {
	var b strings.Builder
	b.Grow(len(method) + len(path) + len(body) + len(serviceID) + len(timestamp) + 4)
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('|')
	b.WriteString(path)
	b.WriteByte('|')
	b.Write(body)
	b.WriteByte('|')
	b.WriteString(serviceID)
	b.WriteByte('|')
	b.WriteString(timestamp)
	return b.String()
}

// Compute returns the hex-encoded HMAC-SHA256 of the canonical string.
func Compute(secret []byte, method, path string, body []byte, serviceID, timestamp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(Canonical(method, path, body, serviceID, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two signatures in constant time.
func Equal(expected, supplied string) bool {
	return hmac.Equal([]byte(expected), []byte(supplied))
}

// FormatTimestamp renders unix seconds the way they are signed and sent.
func FormatTimestamp(unix int64) string {
	return strconv.FormatInt(unix, 10)
}

// stripQuery drops everything from the first '?'.
func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
