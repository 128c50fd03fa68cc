package security

import (
	"fmt"
	"os"
)

const (
	// PermDBFile is for the release history database.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for local state directories.
	// rwxr-x--- (0750): owner can read/write/execute, group can read/execute, others have no access.
	PermDirectory os.FileMode = 0750

	// PermSSHKey is for private SSH keys.
	// rw------- (0600): only owner can read/write, no one else has access.
	PermSSHKey os.FileMode = 0600
)

// CreateSecureDir creates a new directory with secure permissions.
// Creates parent directories as needed. Existing directories are left as they are.
func CreateSecureDir(path string, perm os.FileMode) error {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	// MkdirAll is subject to umask
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// EnsureSecurePermissions checks if a file has the expected permissions.
// Returns an error if permissions are too permissive.
func EnsureSecurePermissions(path string, expectedPerm os.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	actualPerm := info.Mode().Perm()
	if actualPerm&^expectedPerm != 0 {
		return fmt.Errorf("file %s has too permissive permissions: %04o (expected: %04o)",
			path, actualPerm, expectedPerm)
	}

	return nil
}

// FixFilePermissions sets the correct permissions on a file.
func FixFilePermissions(path string, perm os.FileMode) error {
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to fix file permissions: %w", err)
	}
	return nil
}
