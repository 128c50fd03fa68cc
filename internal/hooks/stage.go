package hooks

import (
	"fmt"
	"strings"
)

// Stage names a point in the release pipeline where tasks can be attached
type Stage string

// Canonical stages, in execution order
const (
	StageStarting   Stage = "starting"
	StageUpdated    Stage = "updated"
	StagePublishing Stage = "publishing"
	StagePublished  Stage = "published"
	StageFinishing  Stage = "finishing"

	// StageFinishingRollback runs after a failed release or an explicit rollback
	StageFinishingRollback Stage = "finishing_rollback"
)

// Pipeline is the canonical stage sequence of a deployment
var Pipeline = []Stage{
	StageStarting,
	StageUpdated,
	StagePublishing,
	StagePublished,
	StageFinishing,
}

// Position places a hook before or after a stage's own action
type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

// ParseStage validates a stage name. A leading "deploy:" is accepted so
// Capistrano hook names such as deploy:published can be used unchanged.
func ParseStage(name string) (Stage, error) {
	stage := Stage(strings.TrimPrefix(name, "deploy:"))
	if stage == StageFinishingRollback {
		return stage, nil
	}
	for _, s := range Pipeline {
		if s == stage {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// ParsePosition validates a hook position. An empty name means After.
func ParsePosition(name string) (Position, error) {
	switch Position(name) {
	case "", After:
		return After, nil
	case Before:
		return Before, nil
	}
	return "", fmt.Errorf("unknown hook position %q (must be before or after)", name)
}
