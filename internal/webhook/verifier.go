// Package webhook authenticates inbound Calendly webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries "t=<timestamp>,v1=<hex signature>"
const SignatureHeader = "Calendly-Webhook-Signature"

// Verifier checks HMAC-SHA256 signatures over the raw request body
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared signing key
func NewVerifier(signingKey string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(signingKey))}
}

// Verify reports whether header carries a valid signature for body. The
// v1 value must equal the lowercase hex HMAC-SHA256 digest exactly. It
// fails closed on a missing secret, a missing header or malformed input.
func (v *Verifier) Verify(body []byte, header string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	signature := extractSignature(header)
	if len(signature) != hex.EncodedLen(sha256.Size) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(v.Sign(body)))
}

// Sign returns the hex signature for body. Used to build test deliveries.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// extractSignature returns the v1 component of the header, or the whole
// header when no v1 marker is present. Only the separator after a comma
// may carry whitespace; the value itself is returned untouched.
func extractSignature(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		if sig, ok := strings.CutPrefix(strings.TrimLeft(part, " "), "v1="); ok {
			return sig
		}
	}
	return header
}
