package scm

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "caravan"
	keyringUser    = "github"
)

// LookupToken returns the first GitHub token found in explicit, the
// GITHUB_TOKEN and GH_TOKEN environment variables, then the OS keyring
func LookupToken(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	token, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		return ""
	}
	return token
}

// StoreToken saves a GitHub token in the OS keyring
func StoreToken(token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		return fmt.Errorf("storing token in keyring: %w", err)
	}
	return nil
}

// ForgetToken removes the stored GitHub token, if any
func ForgetToken() error {
	err := keyring.Delete(keyringService, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("removing token from keyring: %w", err)
	}
	return nil
}
