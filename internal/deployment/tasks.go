package deployment

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"caravan/internal/config"
	"caravan/internal/hooks"
	"caravan/internal/release"
	"caravan/internal/remote"
	"caravan/pkg/cmdutil"
)

// Runner is the part of the remote executor the pipeline needs
type Runner interface {
	Run(ctx context.Context, group remote.HostGroup, command string) (remote.Results, error)
	Upload(ctx context.Context, group remote.HostGroup, localPath, remotePath string, recursive bool) (remote.Results, error)
	Capture(ctx context.Context, host remote.Host, command string) (string, error)
}

// CommandTask runs shell commands inside the release directory
type CommandTask struct {
	name     string
	commands []interface{}
	hosts    remote.HostGroup
	runner   Runner
	spec     *config.ApplicationSpec
	env      map[string]string
}

// Name implements hooks.Task
func (t *CommandTask) Name() string { return t.name }

// Run executes every command in order, stopping at the first failure
func (t *CommandTask) Run(ctx context.Context, rec *release.Record) error {
	vars := templateVars(t.spec, rec)
	for i, cmd := range t.commands {
		script, err := renderCommand(cmd, vars)
		if err != nil {
			return fmt.Errorf("task %s command %d: %w", t.name, i, err)
		}

		full := "cd " + cmdutil.Quote(rec.ReleasePath) + " && " + exportPrefix(t.env) + script
		if _, err := t.runner.Run(ctx, t.hosts, full); err != nil {
			return fmt.Errorf("task %s: %w", t.name, err)
		}
	}
	return nil
}

// UploadTask copies a local file or directory into the release
type UploadTask struct {
	name   string
	upload config.UploadConfig
	hosts  remote.HostGroup
	runner Runner
	spec   *config.ApplicationSpec
}

// Name implements hooks.Task
func (t *UploadTask) Name() string { return t.name }

// Run uploads to every host of the task
func (t *UploadTask) Run(ctx context.Context, rec *release.Record) error {
	vars := templateVars(t.spec, rec)

	from, err := config.Expand(t.upload.From, vars)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.name, err)
	}
	to, err := config.Expand(t.upload.To, vars)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.name, err)
	}

	if _, err := t.runner.Upload(ctx, t.hosts, from, uploadDestination(rec.ReleasePath, from, to), t.upload.Recursive); err != nil {
		return fmt.Errorf("task %s: %w", t.name, err)
	}
	return nil
}

// uploadDestination resolves "to" against the release directory. An empty
// destination keeps the source's base name.
func uploadDestination(releasePath, from, to string) string {
	switch {
	case to == "":
		return path.Join(releasePath, filepath.Base(filepath.Clean(from)))
	case path.IsAbs(to):
		return path.Clean(to)
	default:
		return path.Join(releasePath, to)
	}
}

// RestartServiceTask restarts the configured systemd service
type RestartServiceTask struct {
	hosts   remote.HostGroup
	runner  Runner
	service config.ServiceConfig
}

// Name implements hooks.Task
func (t *RestartServiceTask) Name() string { return config.TaskRestartService }

// Run restarts the service on every host
func (t *RestartServiceTask) Run(ctx context.Context, rec *release.Record) error {
	if _, err := t.runner.Run(ctx, t.hosts, restartCommand(t.service)); err != nil {
		return fmt.Errorf("task %s: %w", config.TaskRestartService, err)
	}
	return nil
}

func restartCommand(svc config.ServiceConfig) string {
	cmd := cmdutil.Quote("systemctl", "restart", svc.Name)
	if svc.UseSudo {
		cmd = "sudo -n " + cmd
	}
	return cmd
}

// BuildHooks turns the hook bindings of spec into a registry of tasks
func BuildHooks(spec *config.ApplicationSpec, runner Runner, env map[string]string) (*hooks.Registry, error) {
	reg := hooks.NewRegistry()
	hosts := spec.HostGroup()
	built := make(map[string]hooks.Task)

	for i, h := range spec.Hooks {
		stage, err := hooks.ParseStage(h.Stage)
		if err != nil {
			return nil, fmt.Errorf("hooks[%d]: %w", i, err)
		}
		position, err := hooks.ParsePosition(h.Position)
		if err != nil {
			return nil, fmt.Errorf("hooks[%d]: %w", i, err)
		}

		task, ok := built[h.Task]
		if !ok {
			task, err = buildTask(spec, h.Task, hosts, runner, env)
			if err != nil {
				return nil, fmt.Errorf("hooks[%d]: %w", i, err)
			}
			built[h.Task] = task
		}

		reg.Register(stage, position, task)
	}

	return reg, nil
}

func buildTask(spec *config.ApplicationSpec, name string, hosts remote.HostGroup, runner Runner, env map[string]string) (hooks.Task, error) {
	if name == config.TaskRestartService && spec.Service.Name != "" {
		return &RestartServiceTask{hosts: hosts, runner: runner, service: spec.Service}, nil
	}

	cfg, ok := spec.Tasks[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}

	targets := hosts.WithRoles(cfg.Roles...)
	if len(targets) == 0 {
		return nil, fmt.Errorf("task %s: no servers with roles %v", name, cfg.Roles)
	}

	if cfg.Upload != nil {
		return &UploadTask{name: name, upload: *cfg.Upload, hosts: targets, runner: runner, spec: spec}, nil
	}
	return &CommandTask{name: name, commands: cfg.Run, hosts: targets, runner: runner, spec: spec, env: env}, nil
}

func templateVars(spec *config.ApplicationSpec, rec *release.Record) config.TemplateVars {
	vars := spec.Vars()
	vars.ReleasePath = rec.ReleasePath
	vars.ReleaseID = rec.ReleaseID
	vars.Revision = rec.Revision
	if rec.Branch != "" {
		vars.Branch = rec.Branch
	}
	return vars
}

// renderCommand expands a string command as a shell snippet, or an argv list
// argument by argument with every argument quoted
func renderCommand(cmd interface{}, vars config.TemplateVars) (string, error) {
	if s, ok := cmd.(string); ok {
		return config.Expand(s, vars)
	}

	argv, err := cmdutil.ParseCommandList(cmd)
	if err != nil {
		return "", err
	}
	for i, arg := range argv {
		if argv[i], err = config.Expand(arg, vars); err != nil {
			return "", err
		}
	}
	return cmdutil.Quote(argv...), nil
}

func exportPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(cmdutil.Quote(k + "=" + env[k]))
		b.WriteString("; ")
	}
	return b.String()
}
