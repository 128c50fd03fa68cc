package remote

import (
	"context"
	"time"
)

// ExecutionResult is the outcome of one command on one host
type ExecutionResult struct {
	Host     Host
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the command exited with status zero
func (r *ExecutionResult) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Results holds per-host results in host group order
type Results []*ExecutionResult

// Transport carries commands and files to a single host. A non-zero exit is
// reported through ExecutionResult.ExitCode with a nil error; errors are
// reserved for connection failures and cancellation.
type Transport interface {
	Run(ctx context.Context, host Host, command string) (*ExecutionResult, error)
	Upload(ctx context.Context, host Host, localPath, remotePath string, recursive bool) (*ExecutionResult, error)
	Close() error
}
