package deployment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"caravan/internal/config"
	"caravan/internal/hooks"
	"caravan/internal/logging"
	"caravan/internal/release"
	"caravan/internal/remote"
	"caravan/pkg/cmdutil"

	"github.com/rs/zerolog"
)

// Reporter receives one line per completed step. *output.Printer satisfies it.
type Reporter interface {
	Success(msg string)
	Fail(msg string)
}

type nopReporter struct{}

func (nopReporter) Success(string) {}
func (nopReporter) Fail(string)    {}

// site holds the remote operations shared by deploys and rollbacks of one
// application
type site struct {
	spec     *config.ApplicationSpec
	runner   Runner
	hooks    *hooks.Registry
	layout   release.Layout
	hosts    remote.HostGroup
	reporter Reporter
	logger   zerolog.Logger
}

func newSite(spec *config.ApplicationSpec, runner Runner, reg *hooks.Registry, reporter Reporter) *site {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &site{
		spec:     spec,
		runner:   runner,
		hooks:    reg,
		layout:   release.NewLayout(spec.DeployTo),
		hosts:    spec.HostGroup(),
		reporter: reporter,
		logger:   logging.GetLogger("deployment").With().Str("application", spec.Name).Logger(),
	}
}

// runHooks runs the tasks bound to (stage, position) in order
func (s *site) runHooks(ctx context.Context, stage hooks.Stage, position hooks.Position, rec *release.Record) error {
	for _, task := range s.hooks.HooksFor(stage, position) {
		start := time.Now()
		s.logger.Info().
			Str("stage", string(stage)).
			Str("position", string(position)).
			Str("task", task.Name()).
			Str("release", rec.ReleaseID).
			Msg("Running hook")

		if err := task.Run(ctx, rec); err != nil {
			s.reporter.Fail(fmt.Sprintf("%s %s: %s", position, stage, task.Name()))
			return fmt.Errorf("%s hook %s: %w", position, task.Name(), err)
		}

		logging.LogDuration(s.logger, start, "hook "+task.Name())
		s.reporter.Success(fmt.Sprintf("%s %s: %s", position, stage, task.Name()))
	}
	return nil
}

// check creates the directory layout and verifies linked files exist in
// shared/
func (s *site) check(ctx context.Context) error {
	dirs := []string{s.layout.ReleasesPath(), s.layout.SharedPath()}
	for _, d := range s.spec.LinkedDirs {
		dirs = append(dirs, s.layout.SharedPathFor(d))
	}
	for _, f := range s.spec.LinkedFiles {
		dirs = append(dirs, path.Dir(s.layout.SharedPathFor(f)))
	}

	script := []string{cmdutil.Quote(append([]string{"mkdir", "-p"}, dirs...)...)}
	for _, f := range s.spec.LinkedFiles {
		shared := cmdutil.Quote(s.layout.SharedPathFor(f))
		script = append(script, fmt.Sprintf(
			"{ test -f %s || { echo %s >&2; exit 1; }; }",
			shared, cmdutil.Quote("linked file "+s.layout.SharedPathFor(f)+" does not exist"),
		))
	}

	if _, err := s.runner.Run(ctx, s.hosts, strings.Join(script, " && ")); err != nil {
		return fmt.Errorf("deploy:check: %w", err)
	}
	return nil
}

// switchCurrent atomically points current at releasePath on every host
func (s *site) switchCurrent(ctx context.Context, releasePath string) error {
	tmp := path.Join(s.layout.DeployTo, ".current-"+path.Base(releasePath))
	cmd := cmdutil.Quote("ln", "-sfn", releasePath, tmp) + " && " +
		cmdutil.Quote("mv", "-Tf", tmp, s.layout.CurrentPath())

	if _, err := s.runner.Run(ctx, s.hosts, cmd); err != nil {
		return fmt.Errorf("switch current to %s: %w", releasePath, err)
	}
	return nil
}

// removeCurrent deletes the current symlink on every host
func (s *site) removeCurrent(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, s.hosts, cmdutil.Quote("rm", "-f", s.layout.CurrentPath())); err != nil {
		return fmt.Errorf("remove current: %w", err)
	}
	return nil
}

// logRevision appends a line to revisions.log on every host
func (s *site) logRevision(ctx context.Context, line string) error {
	cmd := "echo " + cmdutil.Quote(line) + " >> " + cmdutil.Quote(s.layout.RevisionLog())
	if _, err := s.runner.Run(ctx, s.hosts, cmd); err != nil {
		return fmt.Errorf("log revision: %w", err)
	}
	return nil
}

// cleanup removes all but the newest keep release directories on each host.
// Failed releases do not count toward keep and are always removed. The
// release current points to and any id in protect are never removed.
func (s *site) cleanup(ctx context.Context, keep int, failed map[string]bool, protect ...string) error {
	var errs []error
	for _, host := range s.hosts {
		if err := s.cleanupHost(ctx, host, keep, failed, protect); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *site) cleanupHost(ctx context.Context, host remote.Host, keep int, failed map[string]bool, protect []string) error {
	listing, err := s.runner.Capture(ctx, host, "ls -1 "+cmdutil.Quote(s.layout.ReleasesPath()))
	if err != nil {
		return fmt.Errorf("list releases: %w", err)
	}
	current, _ := s.runner.Capture(ctx, host, "readlink "+cmdutil.Quote(s.layout.CurrentPath())+" || true")
	if current = strings.TrimSpace(current); current != "" {
		protect = append(protect, path.Base(current))
	}

	stale := staleReleases(strings.Split(listing, "\n"), keep, failed, protect)
	if len(stale) == 0 {
		return nil
	}

	paths := make([]string, len(stale))
	for i, id := range stale {
		paths[i] = s.layout.ReleasePath(id)
	}

	s.logger.Info().Str("host", host.Name).Strs("releases", stale).Msg("Removing old releases")
	if _, err := s.runner.Run(ctx, remote.HostGroup{host}, cmdutil.Quote(append([]string{"rm", "-rf", "--"}, paths...)...)); err != nil {
		return fmt.Errorf("remove old releases: %w", err)
	}
	return nil
}

// staleReleases returns the release ids to remove, oldest first: every
// failed id plus the good ids beyond the newest keep. Protected ids are
// never returned.
func staleReleases(names []string, keep int, failed map[string]bool, protect []string) []string {
	protected := make(map[string]bool, len(protect))
	for _, id := range protect {
		protected[id] = true
	}

	var good, stale []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		switch {
		case !release.IsID(n):
		case failed[n]:
			if !protected[n] {
				stale = append(stale, n)
			}
		default:
			good = append(good, n)
		}
	}
	sort.Slice(good, func(i, j int) bool { return release.Compare(good[i], good[j]) > 0 })

	if len(good) > keep {
		for _, id := range good[keep:] {
			if !protected[id] {
				stale = append(stale, id)
			}
		}
	}
	if len(stale) == 0 {
		return nil
	}
	sort.Slice(stale, func(i, j int) bool { return release.Compare(stale[i], stale[j]) < 0 })
	return stale
}

// releaseExists reports whether releasePath is a directory on every host
func (s *site) releaseExists(ctx context.Context, releasePath string) (bool, error) {
	cmd := "if [ -d " + cmdutil.Quote(releasePath) + " ]; then echo present; fi"
	for _, host := range s.hosts {
		out, err := s.runner.Capture(ctx, host, cmd)
		if err != nil {
			return false, fmt.Errorf("check %s on %s: %w", releasePath, host.Name, err)
		}
		if strings.TrimSpace(out) != "present" {
			return false, nil
		}
	}
	return true, nil
}
