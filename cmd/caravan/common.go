package main

import (
	"fmt"
	"os"
	"strings"

	"caravan/internal/config"
	"caravan/internal/history"
	"caravan/internal/output"
	"caravan/internal/remote"
	"caravan/internal/scm"
	"caravan/pkg/fileutil"
)

// appFlags are shared by every command operating on one application
type appFlags struct {
	config string
	branch string
	local  bool
}

// load resolves the config path and loads the application spec
func (f *appFlags) load() (*config.ApplicationSpec, error) {
	path := f.config
	if path == "" {
		found, err := fileutil.FindConfig()
		if err != nil {
			return nil, err
		}
		path = found
	}

	overrides := make(map[string]interface{})
	if f.branch != "" {
		overrides["branch"] = f.branch
	}
	if f.local {
		overrides["source.kind"] = config.SourceLocal
	}

	return config.Load(path,
		config.WithOverrides(overrides),
		config.WithBranchDetector(scm.BranchDetector(".")),
	)
}

// openHistory opens the history database: --db, then history_db, then the
// XDG default
func openHistory(spec *config.ApplicationSpec) (*history.History, error) {
	path := dbPath
	if path == "" && spec != nil {
		path = spec.HistoryDB
	}
	if path == "" {
		path = history.DefaultPath()
	}
	return history.NewHistory(path)
}

// newExecutor builds the SSH executor for spec
func newExecutor(spec *config.ApplicationSpec) *remote.Executor {
	return remote.NewExecutor(remote.NewSSHTransport(spec.RemoteSSHConfig()), spec.ExecutorOptions())
}

func newPrinter() *output.Printer {
	if noColor {
		return output.NewPlain(os.Stdout)
	}
	return output.New(os.Stdout)
}

// parseEnv turns KEY=VALUE flags into a map
func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q (want KEY=VALUE)", pair)
		}
		env[key] = value
	}
	return env, nil
}

// shortRev abbreviates a commit hash for display
func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
