package deployment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"caravan/internal/config"
	"caravan/internal/history"
	"caravan/internal/hooks"
	"caravan/internal/release"
	"caravan/internal/remote"
	"caravan/internal/scm"
	"caravan/pkg/cmdutil"

	"github.com/google/uuid"
)

// Options customises a Deployer
type Options struct {
	// Env is exported to every task command
	Env map[string]string

	// Planner issues release ids. Defaults to a planner on the system clock.
	Planner *release.Planner

	// Reporter receives step progress
	Reporter Reporter

	// Hooks replaces the registry built from the application config
	Hooks *hooks.Registry

	// Resolver looks up the branch head before anything is created. Defaults
	// to the GitHub API when a token is configured, then git ls-remote.
	Resolver scm.Resolver
}

// Deployer drives the release pipeline of one application
type Deployer struct {
	*site
	history  *history.History
	planner  *release.Planner
	resolver scm.Resolver
}

type run struct {
	rec      *release.Record
	prior    *release.Record
	switched bool
}

// NewDeployer creates a deployer for spec
func NewDeployer(spec *config.ApplicationSpec, runner Runner, hist *history.History, opts Options) (*Deployer, error) {
	reg := opts.Hooks
	if reg == nil {
		var err error
		if reg, err = BuildHooks(spec, runner, opts.Env); err != nil {
			return nil, err
		}
	}

	planner := opts.Planner
	if planner == nil {
		planner = release.NewPlanner()
	}

	resolver := opts.Resolver
	if resolver == nil && !spec.UsesLocalSource() {
		resolver = scm.NewResolver(spec.RepoURL, spec.GitHub.Token)
	}

	return &Deployer{
		site:     newSite(spec, runner, reg, opts.Reporter),
		history:  hist,
		planner:  planner,
		resolver: resolver,
	}, nil
}

// Hooks returns the registry the pipeline runs
func (d *Deployer) Hooks() *hooks.Registry {
	return d.hooks
}

// Check validates the remote layout without creating a release
func (d *Deployer) Check(ctx context.Context) error {
	if err := d.check(ctx); err != nil {
		d.reporter.Fail("deploy:check")
		return err
	}
	d.reporter.Success("deploy:check")
	return nil
}

// Deploy runs every stage for a new release. On failure the returned error
// is a *StageError and the record is marked failed; the record is returned
// in both cases once it was created.
func (d *Deployer) Deploy(ctx context.Context) (*release.Record, error) {
	app := d.spec.Name

	lastID, err := d.history.LatestReleaseID(ctx, app)
	if err != nil {
		return nil, err
	}
	d.planner.Seed(lastID)

	prior, err := d.history.Active(ctx, app)
	if err != nil {
		return nil, err
	}

	rec := d.planner.Plan(app, d.spec.DeployTo, d.spec.Branch)
	rec.RunID = uuid.NewString()
	if err := d.history.Append(ctx, rec); err != nil {
		return nil, err
	}

	logger := d.logger.With().Str("release", rec.ReleaseID).Str("run_id", rec.RunID).Logger()
	logger.Info().Str("branch", rec.Branch).Strs("hosts", d.hosts.Names()).Msg("Starting deployment")
	start := time.Now()

	r := &run{rec: rec, prior: prior}
	for _, stage := range hooks.Pipeline {
		if err := d.runStage(ctx, r, stage); err != nil {
			logger.Error().Err(err).Str("stage", string(stage)).Msg("Deployment failed")
			return rec, d.recover(ctx, r, stage, err)
		}
	}

	if err := d.history.Activate(ctx, rec.ID); err != nil {
		return rec, fmt.Errorf("release %s deployed but not recorded as active: %w", rec.ReleaseID, err)
	}
	rec.Status = release.StatusActive

	logger.Info().Dur("duration", time.Since(start)).Msg("Release published")
	return rec, nil
}

func (d *Deployer) runStage(ctx context.Context, r *run, stage hooks.Stage) error {
	if err := d.runHooks(ctx, stage, hooks.Before, r.rec); err != nil {
		return err
	}
	if err := d.core(ctx, r, stage); err != nil {
		d.reporter.Fail(string(stage))
		return err
	}
	d.reporter.Success(string(stage))
	return d.runHooks(ctx, stage, hooks.After, r.rec)
}

func (d *Deployer) core(ctx context.Context, r *run, stage hooks.Stage) error {
	switch stage {
	case hooks.StageStarting:
		if err := d.check(ctx); err != nil {
			return err
		}
		return d.resolve(ctx, r.rec)
	case hooks.StageUpdated:
		if err := d.fetch(ctx, r.rec); err != nil {
			return err
		}
		if err := d.linkShared(ctx, r.rec); err != nil {
			return err
		}
		return d.writeRevision(ctx, r.rec)
	case hooks.StagePublishing:
		// Set before switching: a partial switch across hosts still needs reverting
		r.switched = true
		return d.switchCurrent(ctx, r.rec.ReleasePath)
	case hooks.StageFinishing:
		if err := d.cleanupReleases(ctx, r); err != nil {
			d.logger.Warn().Err(err).Msg("Cleanup of old releases failed")
		}
		return d.logRevision(ctx, fmt.Sprintf("Branch %s (at %s) deployed as release %s by %s",
			r.rec.Branch, r.rec.Revision, r.rec.ReleaseID, d.spec.User))
	}
	return nil
}

// cleanupReleases prunes old and failed releases. The release being
// deployed and the one a failure would revert to are kept.
func (d *Deployer) cleanupReleases(ctx context.Context, r *run) error {
	records, err := d.history.List(ctx, d.spec.Name, 0)
	if err != nil {
		return err
	}
	failed := make(map[string]bool)
	for _, rec := range records {
		if rec.Status == release.StatusFailed {
			failed[rec.ReleaseID] = true
		}
	}

	protect := []string{r.rec.ReleaseID}
	if r.prior != nil {
		protect = append(protect, r.prior.ReleaseID)
	}
	return d.cleanup(ctx, d.spec.KeepReleases, failed, protect...)
}

// resolve pins the release to the current branch head. Only a missing branch
// is fatal; otherwise the mirror decides the revision during fetch.
func (d *Deployer) resolve(ctx context.Context, rec *release.Record) error {
	if d.resolver == nil {
		return nil
	}
	sha, err := d.resolver.Resolve(ctx, d.spec.RepoURL, rec.Branch)
	if err != nil {
		if errors.Is(err, scm.ErrBranchNotFound) {
			return err
		}
		d.logger.Warn().Err(err).Str("branch", rec.Branch).Msg("Could not resolve branch head, using mirror")
		return nil
	}
	return d.setRevision(ctx, rec, sha)
}

// fetch fills the release directory from the repository mirror or the
// local working copy and records the revision
func (d *Deployer) fetch(ctx context.Context, rec *release.Record) error {
	if d.spec.UsesLocalSource() {
		return d.fetchLocal(ctx, rec)
	}

	repo := cmdutil.Quote(d.layout.RepoPath())
	url := cmdutil.Quote(d.spec.RepoURL)
	mirror := fmt.Sprintf(
		"if [ -f %[1]s/HEAD ]; then git -C %[1]s remote set-url origin %[2]s && git -C %[1]s remote update --prune; else git clone --mirror %[2]s %[1]s; fi",
		repo, url,
	)
	if _, err := d.runner.Run(ctx, d.hosts, mirror); err != nil {
		return fmt.Errorf("update repository mirror: %w", err)
	}

	treeish := rec.Branch
	if rec.Revision != "" {
		treeish = rec.Revision
	}
	archive := fmt.Sprintf("mkdir -p %[1]s && git -C %[2]s archive --format=tar --output=%[3]s %[4]s && tar -x -f %[3]s -C %[1]s && rm -f %[3]s",
		cmdutil.Quote(rec.ReleasePath), repo, cmdutil.Quote(rec.ReleasePath+".tar"), cmdutil.Quote(treeish))
	if _, err := d.runner.Run(ctx, d.hosts, archive); err != nil {
		return fmt.Errorf("create release from %s: %w", treeish, err)
	}
	if rec.Revision != "" {
		return nil
	}

	primary, _ := d.hosts.Primary()
	revision, err := d.runner.Capture(ctx, primary, fmt.Sprintf("git -C %s rev-list --max-count=1 %s", repo, cmdutil.Quote(rec.Branch)))
	if err != nil {
		return fmt.Errorf("resolve revision of %s: %w", rec.Branch, err)
	}
	return d.setRevision(ctx, rec, revision)
}

func (d *Deployer) fetchLocal(ctx context.Context, rec *release.Record) error {
	src := d.spec.Source.LocalPath
	if _, err := d.runner.Upload(ctx, d.hosts, src, rec.ReleasePath, true); err != nil {
		return fmt.Errorf("upload %s: %w", src, err)
	}

	revision, err := scm.HeadRevision(ctx, src)
	if err != nil {
		revision = "local"
	}
	return d.setRevision(ctx, rec, revision)
}

func (d *Deployer) setRevision(ctx context.Context, rec *release.Record, revision string) error {
	rec.Revision = revision
	return d.history.SetRevision(ctx, rec.ID, revision)
}

// linkShared symlinks every linked file and directory from shared/ into the
// release
func (d *Deployer) linkShared(ctx context.Context, rec *release.Record) error {
	var cmds []string
	link := func(rel, removeFlag string) {
		target := path.Join(rec.ReleasePath, rel)
		cmds = append(cmds,
			cmdutil.Quote("mkdir", "-p", path.Dir(target)),
			cmdutil.Quote("rm", removeFlag, target),
			cmdutil.Quote("ln", "-s", d.layout.SharedPathFor(rel), target),
		)
	}
	for _, dir := range d.spec.LinkedDirs {
		link(dir, "-rf")
	}
	for _, file := range d.spec.LinkedFiles {
		link(file, "-f")
	}
	if len(cmds) == 0 {
		return nil
	}

	if _, err := d.runner.Run(ctx, d.hosts, strings.Join(cmds, " && ")); err != nil {
		return fmt.Errorf("link shared paths: %w", err)
	}
	return nil
}

func (d *Deployer) writeRevision(ctx context.Context, rec *release.Record) error {
	cmd := "echo " + cmdutil.Quote(rec.Revision) + " > " + cmdutil.Quote(path.Join(rec.ReleasePath, "REVISION"))
	if _, err := d.runner.Run(ctx, d.hosts, cmd); err != nil {
		return fmt.Errorf("write REVISION: %w", err)
	}
	return nil
}

// recover undoes a switched current, runs the rollback hooks and marks the
// record failed
func (d *Deployer) recover(ctx context.Context, r *run, stage hooks.Stage, cause error) error {
	ctx = context.WithoutCancel(ctx)
	stageErr := &StageError{Stage: stage, ReleaseID: r.rec.ReleaseID, Err: cause}

	var recoveryErrs []error
	if r.switched {
		var err error
		if r.prior != nil {
			err = d.switchCurrent(ctx, r.prior.ReleasePath)
		} else {
			err = d.removeCurrent(ctx)
		}
		if err != nil {
			recoveryErrs = append(recoveryErrs, err)
		} else {
			stageErr.Reverted = true
		}
	}
	if r.prior != nil && (!r.switched || stageErr.Reverted) {
		stageErr.CurrentRelease = r.prior.ReleaseID
	}

	// Rollback hooks see the release that is live again, if any
	hookRec := r.rec
	if r.prior != nil {
		hookRec = r.prior
	}
	stageErr.RollbackHooksRan = true
	if err := d.runHooks(ctx, hooks.StageFinishingRollback, hooks.Before, hookRec); err != nil {
		recoveryErrs = append(recoveryErrs, err)
	} else if err := d.runHooks(ctx, hooks.StageFinishingRollback, hooks.After, hookRec); err != nil {
		recoveryErrs = append(recoveryErrs, err)
	}

	if err := d.history.MarkFailed(ctx, r.rec.ID, cause); err != nil {
		recoveryErrs = append(recoveryErrs, err)
	}
	r.rec.Status = release.StatusFailed
	msg := cause.Error()
	r.rec.ErrorMessage = &msg

	stageErr.RecoveryErr = errors.Join(recoveryErrs...)
	return stageErr
}

var _ Runner = (*remote.Executor)(nil)
