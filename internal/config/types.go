package config

import (
	"fmt"
	"path"
	"time"

	"caravan/internal/remote"
	"caravan/pkg/templates"
)

// Source kinds
const (
	SourceGit   = "git"
	SourceLocal = "local"
)

// TaskRestartService is the built-in task restarting the configured service
const TaskRestartService = "restart_service"

// DefaultRole is assigned to servers declared without roles
const DefaultRole = "app"

// ApplicationSpec is the validated, immutable configuration of one application
type ApplicationSpec struct {
	Name           string                `koanf:"application" yaml:"application"`
	User           string                `koanf:"user" yaml:"user"`
	RepoURL        string                `koanf:"repo_url" yaml:"repo_url,omitempty"`
	Branch         string                `koanf:"branch" yaml:"branch,omitempty"`
	DeployTo       string                `koanf:"deploy_to" yaml:"deploy_to,omitempty"`
	KeepReleases   int                   `koanf:"keep_releases" yaml:"keep_releases"`
	LinkedFiles    []string              `koanf:"linked_files" yaml:"linked_files,omitempty"`
	LinkedDirs     []string              `koanf:"linked_dirs" yaml:"linked_dirs,omitempty"`
	CommandTimeout time.Duration         `koanf:"command_timeout" yaml:"command_timeout,omitempty"`
	MaxParallel    int                   `koanf:"max_parallel" yaml:"max_parallel,omitempty"`
	Servers        []Server              `koanf:"servers" yaml:"servers"`
	Tasks          map[string]TaskConfig `koanf:"tasks" yaml:"tasks,omitempty"`
	Hooks          []HookConfig          `koanf:"hooks" yaml:"hooks,omitempty"`
	SSH            SSHConfig             `koanf:"ssh" yaml:"ssh,omitempty"`
	Service        ServiceConfig         `koanf:"service" yaml:"service,omitempty"`
	GitHub         GitHubConfig          `koanf:"github" yaml:"github,omitempty"`
	Webhook        WebhookConfig         `koanf:"webhook" yaml:"webhook,omitempty"`
	Source         Source                `koanf:"source" yaml:"source,omitempty"`

	// HistoryDB overrides the release history database path
	HistoryDB string `koanf:"history_db" yaml:"history_db,omitempty"`

	// Path is the file the configuration was loaded from
	Path string `koanf:"-" yaml:"-"`
}

// Server is a deployment target
type Server struct {
	Host  string   `koanf:"host" yaml:"host"`
	User  string   `koanf:"user" yaml:"user,omitempty"`
	Port  int      `koanf:"port" yaml:"port,omitempty"`
	Roles []string `koanf:"roles" yaml:"roles,omitempty"`
}

// TaskConfig declares a named task. Exactly one of Run or Upload is set.
type TaskConfig struct {
	Desc  string   `koanf:"desc" yaml:"desc,omitempty"`
	Roles []string `koanf:"roles" yaml:"roles,omitempty"`

	// Run holds commands, each a shell string or an argv list
	Run    []interface{} `koanf:"run" yaml:"run,omitempty"`
	Upload *UploadConfig `koanf:"upload" yaml:"upload,omitempty"`
}

// UploadConfig copies a local path into the release
type UploadConfig struct {
	From      string `koanf:"from" yaml:"from"`
	To        string `koanf:"to" yaml:"to,omitempty"`
	Recursive bool   `koanf:"recursive" yaml:"recursive,omitempty"`
}

// HookConfig binds a task to a stage
type HookConfig struct {
	Stage    string `koanf:"stage" yaml:"stage"`
	Position string `koanf:"position" yaml:"position,omitempty"`
	Task     string `koanf:"task" yaml:"task"`
}

// SSHConfig holds connection settings shared by every server
type SSHConfig struct {
	Port                  int           `koanf:"port" yaml:"port,omitempty"`
	KeyFile               string        `koanf:"key_file" yaml:"key_file,omitempty"`
	KnownHosts            string        `koanf:"known_hosts" yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool          `koanf:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key,omitempty"`
	ConnectTimeout        time.Duration `koanf:"connect_timeout" yaml:"connect_timeout,omitempty"`
	UseAgent              bool          `koanf:"use_agent" yaml:"use_agent,omitempty"`
}

// ServiceConfig describes the systemd unit managed by setup and restart_service
type ServiceConfig struct {
	Name        string   `koanf:"name" yaml:"name,omitempty"`
	ExecStart   string   `koanf:"exec_start" yaml:"exec_start,omitempty"`
	Environment []string `koanf:"environment" yaml:"environment,omitempty"`
	UseSudo     bool     `koanf:"use_sudo" yaml:"use_sudo,omitempty"`
}

// GitHubConfig holds API access used for revision lookup and setup
type GitHubConfig struct {
	Token string `koanf:"token" yaml:"-"`
}

// WebhookConfig configures push-triggered deploys
type WebhookConfig struct {
	Secret string `koanf:"secret" yaml:"-"`
}

// Source selects where release contents come from
type Source struct {
	Kind      string `koanf:"kind" yaml:"kind,omitempty"`
	LocalPath string `koanf:"local_path" yaml:"local_path,omitempty"`
}

// TemplateVars are the values available to templated commands and paths
type TemplateVars struct {
	Application string
	User        string
	DeployTo    string
	ReleasePath string
	ReleaseID   string
	CurrentPath string
	SharedPath  string
	Branch      string
	Revision    string
}

// UsesLocalSource reports whether releases are uploaded from a local directory
func (s *ApplicationSpec) UsesLocalSource() bool {
	return s.Source.Kind == SourceLocal
}

// HostGroup returns every configured server as a remote host group
func (s *ApplicationSpec) HostGroup() remote.HostGroup {
	group := make(remote.HostGroup, 0, len(s.Servers))
	for _, srv := range s.Servers {
		user := srv.User
		if user == "" {
			user = s.User
		}
		port := srv.Port
		if port == 0 {
			port = s.SSH.Port
		}
		group = append(group, remote.Host{
			Name:  srv.Host,
			User:  user,
			Port:  port,
			Roles: append([]string(nil), srv.Roles...),
		})
	}
	return group
}

// RemoteSSHConfig converts the ssh section for the SSH transport
func (s *ApplicationSpec) RemoteSSHConfig() remote.SSHConfig {
	return remote.SSHConfig{
		User:                  s.User,
		KeyFile:               s.SSH.KeyFile,
		KnownHostsFile:        s.SSH.KnownHosts,
		InsecureIgnoreHostKey: s.SSH.InsecureIgnoreHostKey,
		ConnectTimeout:        s.SSH.ConnectTimeout,
		UseAgent:              s.SSH.UseAgent,
	}
}

// ExecutorOptions converts the timeout and parallelism settings
func (s *ApplicationSpec) ExecutorOptions() remote.Options {
	return remote.Options{
		Timeout:     s.CommandTimeout,
		MaxParallel: s.MaxParallel,
	}
}

// Vars returns the application level template variables
func (s *ApplicationSpec) Vars() TemplateVars {
	return TemplateVars{
		Application: s.Name,
		User:        s.User,
		DeployTo:    s.DeployTo,
		CurrentPath: path.Join(s.DeployTo, "current"),
		SharedPath:  path.Join(s.DeployTo, "shared"),
		Branch:      s.Branch,
	}
}

// Expand renders a templated string with vars
func Expand(text string, vars TemplateVars) (string, error) {
	out, err := templates.Expand(text, vars)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", text, err)
	}
	return out, nil
}

// MatchesRef checks if a git ref matches the application's branch
func (s *ApplicationSpec) MatchesRef(ref string) bool {
	return ref == "refs/heads/"+s.Branch
}

// HasTask reports whether name is declared or built in
func (s *ApplicationSpec) HasTask(name string) bool {
	if _, ok := s.Tasks[name]; ok {
		return true
	}
	return name == TaskRestartService && s.Service.Name != ""
}
