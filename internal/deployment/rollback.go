package deployment

import (
	"context"
	"fmt"

	"caravan/internal/config"
	"caravan/internal/history"
	"caravan/internal/hooks"
	"caravan/internal/release"
)

// RollbackManager re-points current at the release before the current one
type RollbackManager struct {
	*site
	history *history.History
}

// NewRollbackManager creates a rollback manager. A nil registry builds the
// hooks from spec.
func NewRollbackManager(spec *config.ApplicationSpec, runner Runner, hist *history.History, reg *hooks.Registry, reporter Reporter) (*RollbackManager, error) {
	if reg == nil {
		var err error
		if reg, err = BuildHooks(spec, runner, nil); err != nil {
			return nil, err
		}
	}
	return &RollbackManager{
		site:    newSite(spec, runner, reg, reporter),
		history: hist,
	}, nil
}

// Targets returns the record current is taken to be and the record a
// rollback would activate. Candidates whose release directory is missing on
// any host are skipped.
func (m *RollbackManager) Targets(ctx context.Context) (current, target *release.Record, err error) {
	published, err := m.history.Published(ctx, m.spec.Name)
	if err != nil {
		return nil, nil, err
	}
	if len(published) == 0 {
		return nil, nil, &NoPriorReleaseError{Application: m.spec.Name}
	}

	current = &published[0]
	for i := 1; i < len(published); i++ {
		s := published[i].Status
		if s != release.StatusActive && s != release.StatusHistorical {
			continue
		}
		ok, err := m.releaseExists(ctx, published[i].ReleasePath)
		if err != nil {
			return current, nil, err
		}
		if !ok {
			m.logger.Warn().Str("release", published[i].ReleaseID).Msg("Skipping rollback target, release directory is gone")
			continue
		}
		return current, &published[i], nil
	}
	return current, nil, &NoPriorReleaseError{Application: m.spec.Name}
}

// Rollback activates the release before the current one and returns it.
// Calling it again without a new deploy leaves the same release active.
func (m *RollbackManager) Rollback(ctx context.Context) (*release.Record, error) {
	current, target, err := m.Targets(ctx)
	if err != nil {
		return nil, err
	}

	logger := m.logger.With().Str("from", current.ReleaseID).Str("to", target.ReleaseID).Logger()
	logger.Info().Msg("Rolling back")

	if err := m.switchCurrent(ctx, target.ReleasePath); err != nil {
		m.reporter.Fail("switch current to " + target.ReleaseID)
		return nil, err
	}
	m.reporter.Success("switch current to " + target.ReleaseID)

	if err := m.history.RollBack(ctx, current.ID, target.ID); err != nil {
		return nil, fmt.Errorf("current switched to %s but history not updated: %w", target.ReleaseID, err)
	}
	target.Status = release.StatusActive

	for _, pos := range []hooks.Position{hooks.Before, hooks.After} {
		if err := m.runHooks(ctx, hooks.StageFinishingRollback, pos, target); err != nil {
			return target, &StageError{
				Stage:            hooks.StageFinishingRollback,
				ReleaseID:        target.ReleaseID,
				Err:              err,
				CurrentRelease:   target.ReleaseID,
				RollbackHooksRan: true,
			}
		}
	}

	if err := m.logRevision(ctx, fmt.Sprintf("%s rolled back to release %s", m.spec.User, target.ReleaseID)); err != nil {
		return target, err
	}

	logger.Info().Msg("Rollback complete")
	return target, nil
}
