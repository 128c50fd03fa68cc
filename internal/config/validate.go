package config

import (
	"fmt"
	"regexp"
	"sort"

	"caravan/internal/hooks"
	"caravan/internal/security"
	"caravan/pkg/cmdutil"
)

var (
	taskNamePattern    = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)
	serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9@_.-]+$`)
	hostPattern        = regexp.MustCompile(`^[a-zA-Z0-9.:_-]+$`)
)

// Validate re-checks a spec built in code rather than loaded from a file
func Validate(spec *ApplicationSpec) error {
	problems := &ConfigError{Path: spec.Path}
	validate(spec, problems)
	return problems.orNil()
}

func validate(spec *ApplicationSpec, problems *ConfigError) {
	if spec.Name == "" {
		problems.add("missing required 'application' field")
	} else if err := security.ValidateApplicationName(spec.Name); err != nil {
		problems.add("application: %v", err)
	}

	if spec.User == "" {
		problems.add("missing required 'user' field")
	}

	if spec.UsesLocalSource() {
		if spec.Source.LocalPath == "" {
			problems.add("source.local_path is required for a local source")
		}
	} else {
		if spec.Source.Kind != SourceGit {
			problems.add("source.kind must be %q or %q, got %q", SourceGit, SourceLocal, spec.Source.Kind)
		}
		if spec.RepoURL == "" {
			problems.add("missing required 'repo_url' field (or set USE_LOCAL_REPO)")
		} else if err := security.ValidateRepoURL(spec.RepoURL); err != nil {
			problems.add("repo_url: %v", err)
		}
	}

	if err := security.ValidateBranchName(spec.Branch); err != nil {
		problems.add("branch: %v", err)
	}

	if spec.DeployTo != "" {
		if _, err := security.SanitizePath(spec.DeployTo); err != nil {
			problems.add("deploy_to: %v", err)
		}
	}

	if spec.KeepReleases < 1 {
		problems.add("keep_releases must be at least 1, got %d", spec.KeepReleases)
	}
	if spec.CommandTimeout < 0 {
		problems.add("command_timeout must not be negative")
	}
	if spec.MaxParallel < 0 {
		problems.add("max_parallel must not be negative")
	}
	if spec.SSH.Port < 1 || spec.SSH.Port > 65535 {
		problems.add("ssh.port must be between 1 and 65535, got %d", spec.SSH.Port)
	}

	for _, f := range spec.LinkedFiles {
		if err := security.ValidateLinkedPath(f); err != nil {
			problems.add("linked_files: %v", err)
		}
	}
	for _, d := range spec.LinkedDirs {
		if err := security.ValidateLinkedPath(d); err != nil {
			problems.add("linked_dirs: %v", err)
		}
	}

	validateServers(spec, problems)
	validateTasks(spec, problems)
	validateHooks(spec, problems)

	if spec.Service.Name != "" && !serviceNamePattern.MatchString(spec.Service.Name) {
		problems.add("service.name contains invalid characters: %q", spec.Service.Name)
	}

	if spec.Webhook.Secret != "" {
		if err := security.ValidateSecret(spec.Webhook.Secret); err != nil {
			problems.add("webhook.secret: %v", err)
		}
	}
}

func validateServers(spec *ApplicationSpec, problems *ConfigError) {
	if len(spec.Servers) == 0 {
		problems.add("at least one server is required")
		return
	}

	seen := make(map[string]bool)
	for i, srv := range spec.Servers {
		switch {
		case srv.Host == "":
			problems.add("servers[%d]: missing host", i)
		case !hostPattern.MatchString(srv.Host):
			problems.add("servers[%d]: invalid host %q", i, srv.Host)
		case seen[srv.Host]:
			problems.add("servers[%d]: duplicate host %q", i, srv.Host)
		}
		seen[srv.Host] = true

		if srv.Port < 0 || srv.Port > 65535 {
			problems.add("servers[%d]: port out of range: %d", i, srv.Port)
		}
	}
}

func validateTasks(spec *ApplicationSpec, problems *ConfigError) {
	names := make([]string, 0, len(spec.Tasks))
	for name := range spec.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		task := spec.Tasks[name]
		if !taskNamePattern.MatchString(name) {
			problems.add("tasks: invalid task name %q", name)
		}
		if name == TaskRestartService {
			problems.add("tasks: %q is built in and cannot be redefined", name)
		}

		hasRun := len(task.Run) > 0
		hasUpload := task.Upload != nil
		switch {
		case hasRun && hasUpload:
			problems.add("tasks.%s: set either 'run' or 'upload', not both", name)
		case !hasRun && !hasUpload:
			problems.add("tasks.%s: must define 'run' or 'upload'", name)
		}

		for i, cmd := range task.Run {
			if _, err := cmdutil.ParseCommandList(cmd); err != nil {
				problems.add("tasks.%s.run[%d]: %v", name, i, err)
			}
		}

		if hasUpload && task.Upload.From == "" {
			problems.add("tasks.%s.upload: missing 'from'", name)
		}
	}
}

func validateHooks(spec *ApplicationSpec, problems *ConfigError) {
	for i, h := range spec.Hooks {
		label := fmt.Sprintf("hooks[%d]", i)

		if _, err := hooks.ParseStage(h.Stage); err != nil {
			problems.add("%s: %v", label, err)
		}
		if _, err := hooks.ParsePosition(h.Position); err != nil {
			problems.add("%s: %v", label, err)
		}

		switch {
		case h.Task == "":
			problems.add("%s: missing task", label)
		case h.Task == TaskRestartService && spec.Service.Name == "":
			problems.add("%s: %q requires service.name", label, TaskRestartService)
		case !spec.HasTask(h.Task):
			problems.add("%s: unknown task %q", label, h.Task)
		}
	}
}
