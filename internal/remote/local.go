package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"caravan/pkg/cmdutil"
)

// LocalTransport runs commands through sh -c on this machine
type LocalTransport struct{}

// NewLocalTransport creates a transport inheriting the process environment
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

// Run executes command with sh -c
func (t *LocalTransport) Run(ctx context.Context, host Host, command string) (*ExecutionResult, error) {
	res, err := cmdutil.Shell(ctx, cmdutil.ExecOptions{}, command)
	out := fromCmdResult(host, res)
	if res == nil || res.ExitCode < 0 || ctx.Err() != nil {
		if err == nil {
			err = ctx.Err()
		}
		return out, err
	}
	return out, nil
}

// Upload copies localPath to remotePath. Directories are copied without
// their .git metadata when recursive is set; remotePath becomes the copy,
// not its parent.
func (t *LocalTransport) Upload(ctx context.Context, host Host, localPath, remotePath string, recursive bool) (*ExecutionResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("upload source: %w", err)
	}

	var script string
	if info.IsDir() {
		if !recursive {
			return nil, fmt.Errorf("upload source %s is a directory (set recursive)", localPath)
		}
		script = fmt.Sprintf("mkdir -p %s && tar -C %s --exclude=.git -cf - . | tar -C %s -xf -",
			cmdutil.Quote(remotePath), cmdutil.Quote(localPath), cmdutil.Quote(remotePath))
	} else {
		script = fmt.Sprintf("mkdir -p %s && cp -p %s %s",
			cmdutil.Quote(filepath.Dir(remotePath)), cmdutil.Quote(localPath), cmdutil.Quote(remotePath))
	}

	return t.Run(ctx, host, script)
}

// Close is a no-op for local execution
func (t *LocalTransport) Close() error {
	return nil
}

func fromCmdResult(host Host, res *cmdutil.Result) *ExecutionResult {
	if res == nil {
		return &ExecutionResult{Host: host, ExitCode: -1}
	}
	return &ExecutionResult{
		Host:     host,
		ExitCode: res.ExitCode,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		Duration: res.Duration,
	}
}
