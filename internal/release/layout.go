package release

import "path"

// Layout describes the directory structure under an application's deploy root.
//
//	deploy_to/
//	  current -> releases/20261019120000
//	  releases/<release id>/
//	  shared/
//	  repo/
//	  revisions.log
//
// Paths are remote POSIX paths, so they are joined with path, not filepath.
type Layout struct {
	DeployTo string
}

// NewLayout creates a layout rooted at deployTo
func NewLayout(deployTo string) Layout {
	return Layout{DeployTo: path.Clean(deployTo)}
}

func (l Layout) ReleasesPath() string { return path.Join(l.DeployTo, "releases") }
func (l Layout) SharedPath() string   { return path.Join(l.DeployTo, "shared") }
func (l Layout) CurrentPath() string  { return path.Join(l.DeployTo, "current") }
func (l Layout) RepoPath() string     { return path.Join(l.DeployTo, "repo") }
func (l Layout) RevisionLog() string  { return path.Join(l.DeployTo, "revisions.log") }

// ReleasePath returns the directory of the release with the given id
func (l Layout) ReleasePath(releaseID string) string {
	return path.Join(l.ReleasesPath(), releaseID)
}

// SharedPathFor returns the shared location of a linked file or directory
func (l Layout) SharedPathFor(rel string) string {
	return path.Join(l.SharedPath(), rel)
}
