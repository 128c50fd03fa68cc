package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var localhost = Host{Name: "localhost"}

func TestLocalTransport_Run(t *testing.T) {
	lt := NewLocalTransport()

	res, err := lt.Run(context.Background(), localhost, "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestLocalTransport_NonZeroExitIsNotAnError(t *testing.T) {
	lt := NewLocalTransport()

	res, err := lt.Run(context.Background(), localhost, "exit 4")
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.False(t, res.OK())
}

func TestLocalTransport_Cancelled(t *testing.T) {
	lt := NewLocalTransport()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lt.Run(ctx, localhost, "sleep 5")
	assert.Error(t, err)
}

func TestLocalTransport_UploadDirectory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "app"), []byte("binary"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "file.txt"), []byte("data"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref"), 0644))

	dst := filepath.Join(t.TempDir(), "release", "bin")

	lt := NewLocalTransport()
	res, err := lt.Upload(context.Background(), localhost, src, dst, true)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Stderr)

	data, err := os.ReadFile(filepath.Join(dst, "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	info, err := os.Stat(filepath.Join(dst, "app"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0100)

	_, err = os.Stat(filepath.Join(dst, ".git"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalTransport_UploadFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "crontab")
	require.NoError(t, os.WriteFile(src, []byte("* * * * * true\n"), 0644))
	dst := filepath.Join(t.TempDir(), "shared", "config", "crontab")

	lt := NewLocalTransport()
	res, err := lt.Upload(context.Background(), localhost, src, dst, false)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Stderr)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "* * * * * true\n", string(data))
}

func TestLocalTransport_UploadDirectoryRequiresRecursive(t *testing.T) {
	lt := NewLocalTransport()
	_, err := lt.Upload(context.Background(), localhost, t.TempDir(), filepath.Join(t.TempDir(), "x"), false)
	assert.Error(t, err)
}
