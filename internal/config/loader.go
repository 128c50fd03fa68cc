package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"caravan/internal/logging"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: CARAVAN_SSH__PORT sets ssh.port.
const EnvPrefix = "CARAVAN_"

// Defaults
const (
	DefaultKeepReleases   = 5
	DefaultBranch         = "main"
	DefaultCommandTimeout = "10m"
	DefaultSSHPort        = 22
)

type loadOptions struct {
	overrides    map[string]interface{}
	detectBranch func() (string, error)
}

// Option customises Load
type Option func(*loadOptions)

// WithOverrides applies values on top of every other layer. Keys use dotted
// paths, e.g. "branch" or "ssh.port".
func WithOverrides(values map[string]interface{}) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]interface{})
		}
		for k, v := range values {
			o.overrides[k] = v
		}
	}
}

// WithBranchDetector supplies the branch used when none is configured
func WithBranchDetector(fn func() (string, error)) Option {
	return func(o *loadOptions) {
		o.detectBranch = fn
	}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"keep_releases":   DefaultKeepReleases,
		"command_timeout": DefaultCommandTimeout,
		"ssh.port":        DefaultSSHPort,
		"ssh.use_agent":   true,
		"source.kind":     SourceGit,
	}
}

// Load reads an application config file and layers, in order: built-in
// defaults, the file, CARAVAN_* environment variables, the BRANCH and
// USE_LOCAL_REPO variables, then explicit overrides. Every problem found is
// reported in a single *ConfigError.
func Load(path string, opts ...Option) (*ApplicationSpec, error) {
	logger := logging.GetLogger("config")

	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	parser, err := parserFor(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Problems: []string{err.Error()}}
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, &ConfigError{Path: path, Problems: []string{fmt.Sprintf("failed to read config: %v", err)}}
	}

	// 3. CARAVAN_* environment
	err = k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Legacy deploy script variables
	legacy := make(map[string]interface{})
	if branch, ok := os.LookupEnv("BRANCH"); ok && branch != "" {
		legacy["branch"] = branch
	}
	if _, ok := os.LookupEnv("USE_LOCAL_REPO"); ok {
		legacy["source.kind"] = SourceLocal
		legacy["repo_url"] = ""
	}
	if len(legacy) > 0 {
		if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}

	// 5. Explicit overrides
	if len(o.overrides) > 0 {
		if err := k.Load(confmap.Provider(o.overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	// 6. Unmarshal
	var spec ApplicationSpec
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &spec,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &spec, unmarshalConf); err != nil {
		return nil, &ConfigError{Path: path, Problems: []string{fmt.Sprintf("failed to decode config: %v", err)}}
	}

	if abs, err := filepath.Abs(path); err == nil {
		spec.Path = abs
	} else {
		spec.Path = path
	}

	// 7. Post-process and validate
	problems := &ConfigError{Path: path}
	postProcess(&spec, &o, problems)
	validate(&spec, problems)
	if err := problems.orNil(); err != nil {
		return nil, err
	}

	logger.Debug().
		Str("application", spec.Name).
		Str("path", spec.Path).
		Str("branch", spec.Branch).
		Int("servers", len(spec.Servers)).
		Msg("Configuration loaded")

	return &spec, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

func postProcess(spec *ApplicationSpec, o *loadOptions, problems *ConfigError) {
	if spec.Branch == "" && o.detectBranch != nil {
		if branch, err := o.detectBranch(); err == nil {
			spec.Branch = strings.TrimSpace(branch)
		}
	}
	if spec.Branch == "" {
		spec.Branch = DefaultBranch
	}

	if spec.DeployTo == "" && spec.User != "" && spec.Name != "" {
		spec.DeployTo = fmt.Sprintf("/home/%s/%s", spec.User, spec.Name)
	}
	if strings.Contains(spec.DeployTo, "{{") {
		deployTo, err := Expand(spec.DeployTo, TemplateVars{Application: spec.Name, User: spec.User, Branch: spec.Branch})
		if err != nil {
			problems.add("deploy_to: %v", err)
		} else {
			spec.DeployTo = deployTo
		}
	}

	for i := range spec.Servers {
		if len(spec.Servers[i].Roles) == 0 {
			spec.Servers[i].Roles = []string{DefaultRole}
		}
	}

	for i := range spec.Hooks {
		if spec.Hooks[i].Position == "" {
			spec.Hooks[i].Position = "after"
		}
	}

	if spec.UsesLocalSource() && spec.Source.LocalPath == "" {
		spec.Source.LocalPath = "."
	}

	if spec.GitHub.Token == "" {
		spec.GitHub.Token = firstEnv("GITHUB_TOKEN", "GH_TOKEN")
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
