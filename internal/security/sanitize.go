package security

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	httpsURLPattern = regexp.MustCompile(`^https://[a-zA-Z0-9.-]+(?::[0-9]+)?(?:/[a-zA-Z0-9_.-]+)+?(?:\.git)?$`)
	sshURLPattern   = regexp.MustCompile(`^ssh://[a-zA-Z0-9_.-]+@[a-zA-Z0-9.-]+(?::[0-9]+)?(?:/[a-zA-Z0-9_.-]+)+?(?:\.git)?$`)
	scpURLPattern   = regexp.MustCompile(`^[a-zA-Z0-9_.-]+@[a-zA-Z0-9.-]+:[a-zA-Z0-9_.-]+(?:/[a-zA-Z0-9_.-]+)*(?:\.git)?$`)
	branchPattern   = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	appNamePattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	linkedPattern   = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
)

// ValidateRepoURL ensures a repository URL is safe to pass to git.
// HTTPS, ssh:// and scp-style (git@host:owner/repo.git) URLs are accepted.
func ValidateRepoURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.Contains(rawURL, "..") {
		return fmt.Errorf("repository URL contains traversal elements")
	}

	switch {
	case strings.HasPrefix(rawURL, "https://"):
		if !httpsURLPattern.MatchString(rawURL) {
			return fmt.Errorf("URL contains invalid characters or format")
		}
	case strings.HasPrefix(rawURL, "ssh://"):
		if !sshURLPattern.MatchString(rawURL) {
			return fmt.Errorf("URL contains invalid characters or format")
		}
	case strings.Contains(rawURL, "://"):
		return fmt.Errorf("unsupported repository URL scheme: %s", rawURL[:strings.Index(rawURL, "://")])
	default:
		if !scpURLPattern.MatchString(rawURL) {
			return fmt.Errorf("URL contains invalid characters or format")
		}
	}

	return nil
}

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateApplicationName ensures an application name is safe for use in paths and URLs.
func ValidateApplicationName(name string) error {
	if name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("application name cannot start with '-' or '.'")
	}
	if !appNamePattern.MatchString(name) {
		return fmt.Errorf("application name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateLinkedPath checks a linked file or directory entry. Linked paths
// are relative to both the release and the shared directory.
func ValidateLinkedPath(p string) error {
	if p == "" {
		return fmt.Errorf("linked path cannot be empty")
	}
	if path.IsAbs(p) {
		return fmt.Errorf("linked path must be relative: %s", p)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("linked path contains traversal elements: %s", p)
		}
	}
	if !linkedPattern.MatchString(p) {
		return fmt.Errorf("linked path contains invalid characters: %s", p)
	}
	if path.Clean(p) == "." {
		return fmt.Errorf("linked path cannot refer to the release root")
	}
	return nil
}

// SanitizePath ensures a remote path is absolute and doesn't contain traversal attempts.
func SanitizePath(p string) (string, error) {
	if !path.IsAbs(p) {
		return "", fmt.Errorf("path must be absolute: %s", p)
	}

	// Check for .. before cleaning (path.Clean removes them)
	if strings.Contains(p, "..") {
		return "", fmt.Errorf("path contains traversal elements: %s", p)
	}

	return path.Clean(p), nil
}
