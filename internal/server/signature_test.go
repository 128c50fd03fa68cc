package server

import (
	"testing"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main","after":"0123456789abcdef"}`)

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"signed with the secret", Sign(payload, webhookSecret), webhookSecret, true},
		{"signed with another secret", Sign(payload, "wrong-"+webhookSecret), webhookSecret, false},
		{"signature of another payload", Sign([]byte(`{}`), webhookSecret), webhookSecret, false},
		{"missing header", "", webhookSecret, false},
		{"no prefix", "abc123def456", webhookSecret, false},
		{"sha1 prefix", "sha1=abc123def456", webhookSecret, false},
		{"no equals", "sha256abc123def456", webhookSecret, false},
		{"empty after prefix", "sha256=", webhookSecret, false},
		{"uppercase hex", "sha256=" + upper(Sign(payload, webhookSecret)[len(SignaturePrefix):]), webhookSecret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(payload, tt.signature, tt.secret); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Example from GitHub's webhook delivery documentation
func TestSign_KnownVector(t *testing.T) {
	got := Sign([]byte("Hello, World!"), "It's a Secret to Everybody")
	want := "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"
	if got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
