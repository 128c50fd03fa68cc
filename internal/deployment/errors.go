package deployment

import (
	"errors"
	"fmt"

	"caravan/internal/hooks"
)

// ErrDeployInProgress is returned when another pipeline holds the
// application's lock
var ErrDeployInProgress = errors.New("deployment already in progress")

// StageError reports the stage a deployment failed in and what was done to
// recover from it
type StageError struct {
	Stage     hooks.Stage
	ReleaseID string
	Err       error

	// Reverted is set when current had been switched and was re-pointed
	// (or removed) afterwards
	Reverted bool

	// CurrentRelease is where current points after recovery, empty when
	// there is no live release
	CurrentRelease string

	// RollbackHooksRan is set once the finishing_rollback hooks were invoked
	RollbackHooksRan bool

	// RecoveryErr collects failures while reverting or running rollback hooks
	RecoveryErr error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("release %s failed in stage %s: %v", e.ReleaseID, e.Stage, e.Err)
	if e.RecoveryErr != nil {
		msg += fmt.Sprintf(" (recovery: %v)", e.RecoveryErr)
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NoPriorReleaseError is returned by Rollback when there is nothing older
// than the current release to go back to
type NoPriorReleaseError struct {
	Application string
}

func (e *NoPriorReleaseError) Error() string {
	return fmt.Sprintf("no prior release of %s to roll back to", e.Application)
}
