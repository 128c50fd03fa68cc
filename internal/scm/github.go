package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

var githubRepoPattern = regexp.MustCompile(`^(?:git@github\.com:|ssh://git@github\.com/|https://github\.com/)([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(?:\.git)?/?$`)

// ParseGitHubURL extracts owner and repository from a GitHub clone URL
func ParseGitHubURL(repoURL string) (owner, repo string, ok bool) {
	m := githubRepoPattern.FindStringSubmatch(repoURL)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// GitHub wraps the GitHub API calls caravan needs
type GitHub struct {
	client *github.Client
}

// GitHubOption customises NewGitHub
type GitHubOption func(*github.Client) error

// WithBaseURL points the client at another API endpoint
func WithBaseURL(raw string) GitHubOption {
	return func(c *github.Client) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		c.BaseURL = u
		return nil
	}
}

// NewGitHub creates an authenticated GitHub client
func NewGitHub(token string, opts ...GitHubOption) (*GitHub, error) {
	if token == "" {
		return nil, errors.New("GitHub token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	return &GitHub{client: client}, nil
}

// Resolve returns the commit at the head of branch
func (g *GitHub) Resolve(ctx context.Context, repoURL, branch string) (string, error) {
	owner, repo, ok := ParseGitHubURL(repoURL)
	if !ok {
		return "", fmt.Errorf("not a GitHub repository: %s", repoURL)
	}

	b, _, err := g.client.Repositories.GetBranch(ctx, owner, repo, branch, 1)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
		}
		return "", fmt.Errorf("getting branch %s: %w", branch, err)
	}

	sha := b.GetCommit().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("branch %s has no commit", branch)
	}
	return sha, nil
}

// EnsureDeployKey adds key as a read-only deploy key unless it is already
// present. It reports whether a key was created.
func (g *GitHub) EnsureDeployKey(ctx context.Context, owner, repo, title, key string) (bool, error) {
	key = strings.TrimSpace(key)

	keys, _, err := g.client.Repositories.ListKeys(ctx, owner, repo, nil)
	if err != nil {
		return false, fmt.Errorf("listing deploy keys: %w", err)
	}
	for _, k := range keys {
		if strings.TrimSpace(k.GetKey()) == key {
			return false, nil
		}
	}

	readOnly := true
	_, _, err = g.client.Repositories.CreateKey(ctx, owner, repo, &github.Key{
		Title:    &title,
		Key:      &key,
		ReadOnly: &readOnly,
	})
	if err != nil {
		if strings.Contains(err.Error(), "key is already in use") {
			return false, nil
		}
		return false, fmt.Errorf("creating deploy key: %w", err)
	}
	return true, nil
}

// EnsureWebhook registers a push webhook for hookURL unless one exists.
// It reports whether a webhook was created.
func (g *GitHub) EnsureWebhook(ctx context.Context, owner, repo, hookURL, secret string) (bool, error) {
	hooks, _, err := g.client.Repositories.ListHooks(ctx, owner, repo, nil)
	if err != nil {
		return false, fmt.Errorf("listing webhooks: %w", err)
	}
	for _, hook := range hooks {
		if u, ok := hook.Config["url"].(string); ok && u == hookURL {
			return false, nil
		}
	}

	active := true
	_, _, err = g.client.Repositories.CreateHook(ctx, owner, repo, &github.Hook{
		Events: []string{"push"},
		Active: &active,
		Config: map[string]interface{}{
			"url":          hookURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	})
	if err != nil {
		return false, fmt.Errorf("creating webhook: %w", err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
