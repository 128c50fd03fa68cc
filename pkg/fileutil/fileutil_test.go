package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSearchPaths(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test files
	file1 := filepath.Join(tmpDir, "file1.txt")
	file2 := filepath.Join(tmpDir, "file2.txt")
	if err := os.WriteFile(file1, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		paths   []string
		want    string
		wantErr bool
	}{
		{
			"finds first existing file",
			[]string{file1, file2},
			file1,
			false,
		},
		{
			"returns error when no files exist",
			[]string{file2, filepath.Join(tmpDir, "nonexistent.txt")},
			"",
			true,
		},
		{
			"handles empty path list",
			[]string{},
			"",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SearchPaths(tt.paths)
			if (err != nil) != tt.wantErr {
				t.Errorf("SearchPaths() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SearchPaths() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSearchDirs(t *testing.T) {
	tmpDir := t.TempDir()

	dir := filepath.Join(tmpDir, "apps")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	file := filepath.Join(tmpDir, "apps.yaml")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"finds existing directory", []string{filepath.Join(tmpDir, "missing"), dir}, dir},
		{"skips regular files", []string{file}, ""},
		{"handles empty path list", []string{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchDirs(tt.paths); got != tt.want {
				t.Errorf("SearchDirs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultAppsDirs(t *testing.T) {
	dirs := DefaultAppsDirs()
	if len(dirs) != 3 {
		t.Fatalf("DefaultAppsDirs() returned %d paths, want 3", len(dirs))
	}
	if dirs[0] != "apps" {
		t.Errorf("DefaultAppsDirs()[0] = %v, want apps", dirs[0])
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test file
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Create test directory
	testDir := filepath.Join(tmpDir, "testdir")
	if err := os.Mkdir(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing file", testFile, true},
		{"nonexistent file", filepath.Join(tmpDir, "nonexistent.txt"), false},
		{"directory", testDir, false}, // Directories return false
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FileExists(tt.path)
			if got != tt.want {
				t.Errorf("FileExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDirExists(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test directory
	testDir := filepath.Join(tmpDir, "testdir")
	if err := os.Mkdir(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	// Create test file
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing directory", testDir, true},
		{"nonexistent directory", filepath.Join(tmpDir, "nonexistent"), false},
		{"file", testFile, false}, // Files return false
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DirExists(tt.path)
			if got != tt.want {
				t.Errorf("DirExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths()

	if len(paths) != 5 {
		t.Fatalf("DefaultConfigPaths() returned %d paths, want 5", len(paths))
	}

	if paths[0] != "caravan.yaml" {
		t.Errorf("DefaultConfigPaths()[0] = %v, want caravan.yaml", paths[0])
	}
	if paths[2] != filepath.Join("config", "deploy.yaml") {
		t.Errorf("DefaultConfigPaths()[2] = %v, want config/deploy.yaml", paths[2])
	}
	if paths[4] != "/etc/caravan/caravan.yaml" {
		t.Errorf("DefaultConfigPaths()[4] = %v, want /etc/caravan/caravan.yaml", paths[4])
	}
}

func TestIsConfigFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"sample.yaml", true},
		{"sample.YML", true},
		{"sample.toml", true},
		{"sample.json", false},
		{"deploy.rb", false},
		{"README", false},
	}

	for _, tt := range tests {
		if got := IsConfigFile(tt.name); got != tt.want {
			t.Errorf("IsConfigFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestConfigFilesIn(t *testing.T) {
	tmpDir := t.TempDir()

	for _, name := range []string{"web.yaml", "api.toml", ".hidden.yaml", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "dir.yaml"), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	files, err := ConfigFilesIn(tmpDir)
	if err != nil {
		t.Fatalf("ConfigFilesIn() error = %v", err)
	}

	want := []string{filepath.Join(tmpDir, "api.toml"), filepath.Join(tmpDir, "web.yaml")}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("ConfigFilesIn() = %v, want %v", files, want)
	}

	if _, err := ConfigFilesIn(filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("ConfigFilesIn() should fail for a missing directory")
	}
}
