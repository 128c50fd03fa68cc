package hooks

import (
	"context"
	"sync"

	"caravan/internal/release"
)

// Task is a unit of work attached to a stage.
// Tasks are resolved when the configuration is loaded; the registry never
// looks them up by name at run time.
type Task interface {
	Name() string
	Run(ctx context.Context, rel *release.Record) error
}

// TaskFunc adapts a function to the Task interface
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context, rel *release.Record) error
}

func (t TaskFunc) Name() string { return t.TaskName }

func (t TaskFunc) Run(ctx context.Context, rel *release.Record) error {
	return t.Fn(ctx, rel)
}

// Binding attaches a task to a stage
type Binding struct {
	Stage    Stage
	Position Position
	Task     Task
}

type key struct {
	stage    Stage
	position Position
}

// Registry maps (stage, position) pairs to ordered task lists.
// Tasks run in registration order and are never deduplicated: a task
// registered twice runs twice.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[key][]Task
	bindings []Binding
}

// NewRegistry creates an empty hook registry
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[key][]Task),
	}
}

// Register appends task to the hooks of stage at position
func (r *Registry) Register(stage Stage, position Position, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{stage: stage, position: position}
	r.tasks[k] = append(r.tasks[k], task)
	r.bindings = append(r.bindings, Binding{Stage: stage, Position: position, Task: task})
}

// Before is shorthand for Register(stage, Before, task)
func (r *Registry) Before(stage Stage, task Task) {
	r.Register(stage, Before, task)
}

// After is shorthand for Register(stage, After, task)
func (r *Registry) After(stage Stage, task Task) {
	r.Register(stage, After, task)
}

// HooksFor returns the tasks registered for stage at position, in order.
// The returned slice is a copy.
func (r *Registry) HooksFor(stage Stage, position Position) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := r.tasks[key{stage: stage, position: position}]
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// Bindings returns every registration in the order it was made
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

// Count returns the number of registrations
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.bindings)
}
