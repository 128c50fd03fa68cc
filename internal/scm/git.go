package scm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"caravan/pkg/cmdutil"
)

// ErrBranchNotFound is returned when a branch does not exist in the repository
var ErrBranchNotFound = errors.New("branch not found")

// CurrentBranch returns the checked out branch of the working copy in dir
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	return gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadRevision returns the commit checked out in dir
func HeadRevision(ctx context.Context, dir string) (string, error) {
	return gitOutput(ctx, dir, "rev-parse", "HEAD")
}

// BranchDetector adapts CurrentBranch for config.WithBranchDetector. A
// detached HEAD counts as no branch.
func BranchDetector(dir string) func() (string, error) {
	return func() (string, error) {
		branch, err := CurrentBranch(context.Background(), dir)
		if err != nil {
			return "", err
		}
		if branch == "HEAD" {
			return "", fmt.Errorf("detached HEAD in %s", dir)
		}
		return branch, nil
	}
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{Dir: dir}, append([]string{"git"}, args...))
	if err != nil {
		if result != nil && len(result.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(result.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// LsRemoteResolver resolves branch heads with "git ls-remote", using the
// local git client and its credentials
type LsRemoteResolver struct{}

// Resolve returns the commit at the head of branch in repoURL
func (LsRemoteResolver) Resolve(ctx context.Context, repoURL, branch string) (string, error) {
	out, err := gitOutput(ctx, "", "ls-remote", "--heads", repoURL, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	return parseLsRemote(out, branch)
}

func parseLsRemote(out, branch string) (string, error) {
	want := "refs/heads/" + branch
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == want {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
}
