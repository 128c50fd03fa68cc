package hooks

import (
	"context"
	"fmt"
	"testing"

	"caravan/internal/release"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedTask(name string) Task {
	return TaskFunc{
		TaskName: name,
		Fn:       func(ctx context.Context, rel *release.Record) error { return nil },
	}
}

func names(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name()
	}
	return out
}

func TestRegistry_OrderWithinStage(t *testing.T) {
	r := NewRegistry()
	r.After(StagePublished, namedTask("reload_crontab"))
	r.After(StageUpdated, namedTask("transfer_build"))
	r.After(StagePublished, namedTask("restart_service"))
	r.Before(StagePublished, namedTask("notify"))

	assert.Equal(t, []string{"reload_crontab", "restart_service"}, names(r.HooksFor(StagePublished, After)))
	assert.Equal(t, []string{"notify"}, names(r.HooksFor(StagePublished, Before)))
	assert.Equal(t, []string{"transfer_build"}, names(r.HooksFor(StageUpdated, After)))
	assert.Empty(t, r.HooksFor(StageFinishing, After))
}

func TestRegistry_NoDeduplication(t *testing.T) {
	r := NewRegistry()
	task := namedTask("reload_crontab")
	r.After(StagePublished, task)
	r.After(StagePublished, task)

	assert.Len(t, r.HooksFor(StagePublished, After), 2)
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_HooksForReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.After(StagePublished, namedTask("a"))

	got := r.HooksFor(StagePublished, After)
	got[0] = namedTask("mutated")

	assert.Equal(t, []string{"a"}, names(r.HooksFor(StagePublished, After)))
}

func TestRegistry_Bindings(t *testing.T) {
	r := NewRegistry()
	r.After(StageUpdated, namedTask("transfer_build"))
	r.Register(StageFinishingRollback, After, namedTask("reload_crontab"))

	bindings := r.Bindings()
	require.Len(t, bindings, 2)
	assert.Equal(t, StageUpdated, bindings[0].Stage)
	assert.Equal(t, After, bindings[0].Position)
	assert.Equal(t, "transfer_build", bindings[0].Task.Name())
	assert.Equal(t, StageFinishingRollback, bindings[1].Stage)
}

func TestTaskFunc_Run(t *testing.T) {
	var got string
	task := TaskFunc{
		TaskName: "capture",
		Fn: func(ctx context.Context, rel *release.Record) error {
			got = rel.ReleaseID
			return nil
		},
	}

	require.NoError(t, task.Run(context.Background(), &release.Record{ReleaseID: "20261019120000"}))
	assert.Equal(t, "20261019120000", got)
}

func TestParseStage(t *testing.T) {
	for _, s := range append(append([]Stage{}, Pipeline...), StageFinishingRollback) {
		stage, err := ParseStage(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, stage)
	}

	stage, err := ParseStage("deploy:published")
	require.NoError(t, err)
	assert.Equal(t, StagePublished, stage)

	_, err = ParseStage("reverting")
	assert.Error(t, err)
}

func TestParsePosition(t *testing.T) {
	pos, err := ParsePosition("")
	require.NoError(t, err)
	assert.Equal(t, After, pos)

	pos, err = ParsePosition("before")
	require.NoError(t, err)
	assert.Equal(t, Before, pos)

	_, err = ParsePosition("around")
	assert.Error(t, err)
}

type registration struct {
	stage    Stage
	position Position
	name     string
}

// hooksFor returns tasks in registration order regardless of how
// registrations for different stages are interleaved.
func TestRegistry_Order_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	stages := append(append([]Stage{}, Pipeline...), StageFinishingRollback)
	positions := []Position{Before, After}

	properties.Property("hooksFor preserves registration order", prop.ForAll(
		func(stageIdx []int, posIdx []int) bool {
			n := len(stageIdx)
			if len(posIdx) < n {
				n = len(posIdx)
			}

			r := NewRegistry()
			var regs []registration
			for i := 0; i < n; i++ {
				reg := registration{
					stage:    stages[stageIdx[i]],
					position: positions[posIdx[i]],
					name:     fmt.Sprintf("task-%d", i),
				}
				regs = append(regs, reg)
				r.Register(reg.stage, reg.position, namedTask(reg.name))
			}

			for _, s := range stages {
				for _, p := range positions {
					var want []string
					for _, reg := range regs {
						if reg.stage == s && reg.position == p {
							want = append(want, reg.name)
						}
					}
					got := names(r.HooksFor(s, p))
					if len(got) != len(want) {
						return false
					}
					for i := range got {
						if got[i] != want[i] {
							return false
						}
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(stages)-1)),
		gen.SliceOf(gen.IntRange(0, 1)),
	))

	properties.TestingRun(t)
}
