package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
)

// ConfigFileName is the default application config file name
const ConfigFileName = "caravan.yaml"

// SearchPaths looks for a file in multiple locations.
// Returns the first path where the file exists, or an error if not found.
func SearchPaths(paths []string) (string, error) {
	for _, path := range paths {
		if FileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("file not found in any of the search paths: %v", paths)
}

// SearchDirs returns the first of paths that is an existing directory, or an
// empty string
func SearchDirs(paths []string) string {
	for _, path := range paths {
		if DirExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns the config search paths in order:
// 1. ./caravan.yaml
// 2. ./config/caravan.yaml
// 3. ./config/deploy.yaml
// 4. $XDG_CONFIG_HOME/caravan/caravan.yaml
// 5. /etc/caravan/caravan.yaml
func DefaultConfigPaths() []string {
	return []string{
		filepath.Join(".", ConfigFileName),
		filepath.Join(".", "config", ConfigFileName),
		filepath.Join(".", "config", "deploy.yaml"),
		filepath.Join(xdg.ConfigHome, "caravan", ConfigFileName),
		filepath.Join("/etc", "caravan", ConfigFileName),
	}
}

// FindConfig searches for an application config in default locations.
func FindConfig() (string, error) {
	path, err := SearchPaths(DefaultConfigPaths())
	if err != nil {
		return "", fmt.Errorf("no config file found (use --config): %w", err)
	}
	return path, nil
}

// DefaultAppsDirs returns the directories searched for served application
// configs: ./apps, $XDG_CONFIG_HOME/caravan/apps, /etc/caravan/apps
func DefaultAppsDirs() []string {
	return []string{
		filepath.Join(".", "apps"),
		filepath.Join(xdg.ConfigHome, "caravan", "apps"),
		filepath.Join("/etc", "caravan", "apps"),
	}
}

// FindAppsDir returns the first default apps directory that exists
func FindAppsDir() (string, error) {
	dirs := DefaultAppsDirs()
	if dir := SearchDirs(dirs); dir != "" {
		return dir, nil
	}
	return "", fmt.Errorf("no apps directory found in %v (use --apps-dir)", dirs)
}

// IsConfigFile reports whether name has an extension the config loader parses
func IsConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// ConfigFilesIn lists config files directly inside dir, sorted by name.
// Hidden files are skipped.
func ConfigFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !IsConfigFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)
	return files, nil
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
