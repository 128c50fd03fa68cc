package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum allowed length for webhook secrets.
	MinSecretLength = 48

	// MinEntropy is the minimum Shannon entropy threshold for secrets.
	MinEntropy = 3.5
)

var placeholderFragments = []string{
	"replace",
	"changeme",
	"topsecret",
	"password",
	"your-webhook-secret",
	"example",
}

// ValidateSecret ensures a webhook secret is long, random and not a placeholder.
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	lower := strings.ToLower(secret)
	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret creates a cryptographically secure random secret.
// Returns a 48-character base64-encoded string.
func GenerateSecret() (string, error) {
	// 36 bytes encode to 48 characters in base64
	buf := make([]byte, 36)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// calculateEntropy computes the Shannon entropy of a string in bits per character.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}
