package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
application: sample
user: master
repo_url: git@github.com:example/sample.git
linked_files: [.env]
linked_dirs: [log, output]
servers:
  - host: app1.example.com
  - host: app2.example.com
    roles: [app, cron]
    port: 2222
tasks:
  reload_crontab:
    desc: Reload the crontab
    run:
      - "cd {{.ReleasePath}}; crontab -u {{.User}} ./config/crontab"
  transfer_build:
    desc: Transfer build
    upload:
      from: ./bin
      recursive: true
hooks:
  - stage: updated
    task: transfer_build
  - stage: published
    task: reload_crontab
  - stage: finishing_rollback
    task: reload_crontab
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"BRANCH", "USE_LOCAL_REPO", "GITHUB_TOKEN", "GH_TOKEN"} {
		if _, ok := os.LookupEnv(name); ok {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoad_SampleWithDefaults(t *testing.T) {
	clearLegacyEnv(t)

	spec, err := Load(writeConfig(t, "caravan.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "sample", spec.Name)
	assert.Equal(t, "master", spec.User)
	assert.Equal(t, "/home/master/sample", spec.DeployTo)
	assert.Equal(t, DefaultBranch, spec.Branch)
	assert.Equal(t, DefaultKeepReleases, spec.KeepReleases)
	assert.Equal(t, 10*time.Minute, spec.CommandTimeout)
	assert.Equal(t, 22, spec.SSH.Port)
	assert.True(t, spec.SSH.UseAgent)
	assert.Equal(t, []string{".env"}, spec.LinkedFiles)
	assert.Equal(t, []string{"log", "output"}, spec.LinkedDirs)
	assert.Equal(t, SourceGit, spec.Source.Kind)
	assert.True(t, filepath.IsAbs(spec.Path))

	require.Len(t, spec.Servers, 2)
	assert.Equal(t, []string{"app"}, spec.Servers[0].Roles)
	assert.Equal(t, []string{"app", "cron"}, spec.Servers[1].Roles)

	require.Len(t, spec.Hooks, 3)
	assert.Equal(t, "after", spec.Hooks[0].Position)
	assert.Equal(t, "transfer_build", spec.Hooks[0].Task)

	require.Contains(t, spec.Tasks, "transfer_build")
	upload := spec.Tasks["transfer_build"].Upload
	require.NotNil(t, upload)
	assert.Equal(t, "./bin", upload.From)
	assert.True(t, upload.Recursive)
	assert.Len(t, spec.Tasks["reload_crontab"].Run, 1)
}

func TestLoad_HostGroup(t *testing.T) {
	clearLegacyEnv(t)

	spec, err := Load(writeConfig(t, "caravan.yaml", sampleYAML))
	require.NoError(t, err)

	group := spec.HostGroup()
	require.Len(t, group, 2)
	assert.Equal(t, "master", group[0].User)
	assert.Equal(t, 22, group[0].Port)
	assert.Equal(t, 2222, group[1].Port)
	assert.Equal(t, []string{"app2.example.com"}, group.WithRoles("cron").Names())
}

func TestLoad_TOML(t *testing.T) {
	clearLegacyEnv(t)

	content := `
application = "sample"
user = "deploy"
repo_url = "https://github.com/example/sample.git"
branch = "release/1.2"
deploy_to = "/srv/{{.Application}}"
keep_releases = 3
command_timeout = "90s"

[[servers]]
host = "localhost"
`
	spec, err := Load(writeConfig(t, "sample.toml", content))
	require.NoError(t, err)

	assert.Equal(t, "/srv/sample", spec.DeployTo)
	assert.Equal(t, "release/1.2", spec.Branch)
	assert.Equal(t, 3, spec.KeepReleases)
	assert.Equal(t, 90*time.Second, spec.CommandTimeout)
}

func TestLoad_EnvironmentLayers(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("CARAVAN_KEEP_RELEASES", "9")
	t.Setenv("CARAVAN_SSH__PORT", "2200")
	t.Setenv("CARAVAN_LINKED_DIRS", "log,tmp")
	t.Setenv("BRANCH", "hotfix")

	spec, err := Load(writeConfig(t, "caravan.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9, spec.KeepReleases)
	assert.Equal(t, 2200, spec.SSH.Port)
	assert.Equal(t, []string{"log", "tmp"}, spec.LinkedDirs)
	assert.Equal(t, "hotfix", spec.Branch)
}

func TestLoad_UseLocalRepo(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("USE_LOCAL_REPO", "1")

	spec, err := Load(writeConfig(t, "caravan.yaml", sampleYAML))
	require.NoError(t, err)

	assert.True(t, spec.UsesLocalSource())
	assert.Empty(t, spec.RepoURL)
	assert.Equal(t, ".", spec.Source.LocalPath)
}

func TestLoad_OverridesWin(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("BRANCH", "from-env")

	spec, err := Load(writeConfig(t, "caravan.yaml", sampleYAML),
		WithOverrides(map[string]interface{}{"branch": "from-flag", "max_parallel": 2}))
	require.NoError(t, err)

	assert.Equal(t, "from-flag", spec.Branch)
	assert.Equal(t, 2, spec.MaxParallel)
}

func TestLoad_BranchDetector(t *testing.T) {
	clearLegacyEnv(t)

	spec, err := Load(writeConfig(t, "caravan.yaml", sampleYAML),
		WithBranchDetector(func() (string, error) { return "feature/epg\n", nil }))
	require.NoError(t, err)
	assert.Equal(t, "feature/epg", spec.Branch)

	spec, err = Load(writeConfig(t, "caravan.yaml", sampleYAML),
		WithBranchDetector(func() (string, error) { return "", errors.New("not a git repository") }))
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, spec.Branch)
}

func TestLoad_GitHubTokenFromEnv(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("GH_TOKEN", "gho_example")

	spec, err := Load(writeConfig(t, "caravan.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "gho_example", spec.GitHub.Token)
}

func TestLoad_CollectsEveryProblem(t *testing.T) {
	clearLegacyEnv(t)

	content := `
application: "bad name"
linked_files: [/etc/passwd]
linked_dirs: [../outside]
keep_releases: 0
tasks:
  empty_task: {}
hooks:
  - stage: reverting
    task: missing
  - stage: published
    position: around
    task: restart_service
`
	path := writeConfig(t, "caravan.yaml", content)
	_, err := Load(path)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, path, cfgErr.Path)

	joined := strings.Join(cfgErr.Problems, "\n")
	for _, want := range []string{
		"application:",
		"missing required 'user' field",
		"missing required 'repo_url' field",
		"keep_releases must be at least 1",
		"linked_files: linked path must be relative",
		"linked_dirs: linked path contains traversal elements",
		"at least one server is required",
		"tasks.empty_task: must define 'run' or 'upload'",
		"hooks[0]: unknown stage",
		"hooks[0]: unknown task",
		"hooks[1]: unknown hook position",
		"requires service.name",
	} {
		assert.Contains(t, joined, want)
	}
	assert.Contains(t, err.Error(), "invalid configuration in "+path)
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	_, err := Load(writeConfig(t, "caravan.json", "{}"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Problems[0], "unsupported config format")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestLoad_TaskValidation(t *testing.T) {
	clearLegacyEnv(t)

	content := sampleYAML + `
service:
  name: sample.service
`
	content = strings.Replace(content, "tasks:\n", `tasks:
  both:
    run: [true]
    upload: {from: ./bin}
  restart_service:
    run: [true]
  bad_argv:
    run:
      - [systemctl, 5]
`, 1)

	_, err := Load(writeConfig(t, "caravan.yaml", content))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))

	joined := strings.Join(cfgErr.Problems, "\n")
	assert.Contains(t, joined, "tasks.both: set either 'run' or 'upload', not both")
	assert.Contains(t, joined, `"restart_service" is built in`)
	assert.Contains(t, joined, "tasks.bad_argv.run[0]")
}

func TestApplicationSpec_HasTask(t *testing.T) {
	spec := &ApplicationSpec{Tasks: map[string]TaskConfig{"reload_crontab": {}}}
	assert.True(t, spec.HasTask("reload_crontab"))
	assert.False(t, spec.HasTask(TaskRestartService))

	spec.Service.Name = "sample"
	assert.True(t, spec.HasTask(TaskRestartService))
}

func TestApplicationSpec_MatchesRef(t *testing.T) {
	spec := &ApplicationSpec{Branch: "main"}
	assert.True(t, spec.MatchesRef("refs/heads/main"))
	assert.False(t, spec.MatchesRef("refs/heads/develop"))
	assert.False(t, spec.MatchesRef("refs/tags/main"))
}

func TestExpand(t *testing.T) {
	spec := &ApplicationSpec{Name: "sample", User: "master", DeployTo: "/home/master/sample", Branch: "main"}
	vars := spec.Vars()
	vars.ReleasePath = "/home/master/sample/releases/20261019120000"

	out, err := Expand("cd {{.ReleasePath}}; crontab -u {{.User}} ./config/crontab", vars)
	require.NoError(t, err)
	assert.Equal(t, "cd /home/master/sample/releases/20261019120000; crontab -u master ./config/crontab", out)

	assert.Equal(t, "/home/master/sample/shared", vars.SharedPath)
	assert.Equal(t, "/home/master/sample/current", vars.CurrentPath)

	_, err = Expand("{{.Unknown}}", vars)
	assert.Error(t, err)
}
