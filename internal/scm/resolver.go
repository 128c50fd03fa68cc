package scm

import (
	"context"
	"errors"
	"fmt"
)

// Resolver finds the commit at the head of a branch
type Resolver interface {
	Resolve(ctx context.Context, repoURL, branch string) (string, error)
}

// Chain tries each resolver in turn. A missing branch is final; any other
// error falls through to the next resolver.
type Chain []Resolver

// Resolve implements Resolver
func (c Chain) Resolve(ctx context.Context, repoURL, branch string) (string, error) {
	var errs []error
	for _, r := range c {
		sha, err := r.Resolve(ctx, repoURL, branch)
		if err == nil {
			return sha, nil
		}
		if errors.Is(err, ErrBranchNotFound) {
			return "", err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("no revision resolver configured")
	}
	return "", errors.Join(errs...)
}

// NewResolver prefers the GitHub API when a token is available and the
// repository is hosted there, falling back to git ls-remote
func NewResolver(repoURL, token string) Resolver {
	chain := Chain{}
	if _, _, ok := ParseGitHubURL(repoURL); ok && token != "" {
		if gh, err := NewGitHub(token); err == nil {
			chain = append(chain, gh)
		}
	}
	return append(chain, LsRemoteResolver{})
}
