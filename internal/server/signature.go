package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix = "sha256="
)

// Sign returns the X-Hub-Signature-256 value of payload under secret
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the HMAC-SHA256 signature of a GitHub webhook
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}

	// Constant-time comparison
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
