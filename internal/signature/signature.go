// Package signature computes and verifies the keyed signature carried on
// every webhook request so receivers can authenticate the sender.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix identifies the signature scheme in the header value.
const Prefix = "sha256="

// Sign returns the header value for body: "sha256=" followed by the hex
// HMAC-SHA256 of the exact body bytes under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature for body under secret and compares it to
// the received header value in constant time.
func Verify(secret, body []byte, header string) bool {
	got := strings.TrimPrefix(header, Prefix)
	want := strings.TrimPrefix(Sign(secret, body), Prefix)
	return hmac.Equal([]byte(got), []byte(want))
}
