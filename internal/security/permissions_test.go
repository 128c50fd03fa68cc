package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateSecureDir(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		dirname string
		perm    os.FileMode
	}{
		{"state dir", "caravan", PermDirectory},
		{"nested dir", "share/caravan/db", PermDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.dirname)
			if err := CreateSecureDir(path, tt.perm); err != nil {
				t.Fatalf("CreateSecureDir() error = %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Directory was not created: %v", err)
			}
			if !info.IsDir() {
				t.Fatalf("Created path is not a directory")
			}
			if info.Mode().Perm() != tt.perm {
				t.Errorf("Directory permissions = %04o, want %04o", info.Mode().Perm(), tt.perm)
			}
		})
	}
}

func TestCreateSecureDir_ExistingLeftAlone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "existing")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		t.Fatalf("Failed to chmod directory: %v", err)
	}

	if err := CreateSecureDir(dir, PermDirectory); err != nil {
		t.Fatalf("CreateSecureDir() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Failed to stat directory: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("existing directory permissions changed to %04o", info.Mode().Perm())
	}
}

func TestEnsureSecurePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	keyFile := filepath.Join(tmpDir, "id_ed25519")
	if err := os.WriteFile(keyFile, []byte("key"), 0600); err != nil {
		t.Fatalf("Failed to create key file: %v", err)
	}
	openKey := filepath.Join(tmpDir, "id_open")
	if err := os.WriteFile(openKey, []byte("key"), 0644); err != nil {
		t.Fatalf("Failed to create key file: %v", err)
	}
	if err := os.Chmod(openKey, 0644); err != nil {
		t.Fatalf("Failed to chmod key file: %v", err)
	}

	tests := []struct {
		name         string
		path         string
		expectedPerm os.FileMode
		wantErr      bool
	}{
		{"private key", keyFile, PermSSHKey, false},
		{"more restrictive allowed", keyFile, PermDBFile, false},
		{"world readable key", openKey, PermSSHKey, true},
		{"nonexistent file", filepath.Join(tmpDir, "missing"), PermSSHKey, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsureSecurePermissions(tt.path, tt.expectedPerm)
			if (err != nil) != tt.wantErr {
				t.Errorf("EnsureSecurePermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFixFilePermissions(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "releases.db")
	if err := os.WriteFile(testFile, []byte("test"), 0666); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.Chmod(testFile, 0666); err != nil {
		t.Fatalf("Failed to set initial permissions: %v", err)
	}

	if err := FixFilePermissions(testFile, PermDBFile); err != nil {
		t.Fatalf("FixFilePermissions() failed: %v", err)
	}

	info, err := os.Stat(testFile)
	if err != nil {
		t.Fatalf("Failed to stat file: %v", err)
	}
	if info.Mode().Perm() != PermDBFile {
		t.Errorf("File permissions = %04o, want %04o", info.Mode().Perm(), PermDBFile)
	}
}
