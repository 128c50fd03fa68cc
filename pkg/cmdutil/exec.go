package cmdutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ErrTimeout is returned when a command exceeds ExecOptions.Timeout
var ErrTimeout = errors.New("command timed out")

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout is the maximum execution time.
	// If zero, no timeout is applied.
	Timeout time.Duration

	// Env contains environment variables for the command.
	// Each entry should be in the form "KEY=value". Nil inherits the
	// current process environment.
	Env []string

	// Stdin is fed to the command when set.
	Stdin io.Reader
}

// Result contains the result of a command execution.
type Result struct {
	Stdout []byte
	Stderr []byte

	// ExitCode is the exit code of the command, -1 if it was killed.
	ExitCode int

	// Duration is how long the command took to execute.
	Duration time.Duration
}

// OK reports whether the command exited with status zero
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Run executes a command with the given options.
// The command is provided as a slice of arguments (command and its arguments).
// A non-nil Result is returned whenever the process was started, including
// when it exits non-zero, so callers can inspect output and exit code.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	if len(cmdParts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdin = opts.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	} else if err != nil {
		// Never started (binary missing, bad working directory)
		result.ExitCode = -1
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%w after %s: %s", ErrTimeout, opts.Timeout, FormatCommand(cmdParts))
	}

	if err != nil {
		return result, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// Shell runs script through "sh -c"
func Shell(ctx context.Context, opts ExecOptions, script string) (*Result, error) {
	return Run(ctx, opts, []string{"sh", "-c", script})
}

// ParseCommandString parses a shell-quoted command string into parts.
// This is useful when commands are stored as strings with proper quoting.
//
// Example:
//
//	"git commit -m \"my message\"" -> ["git", "commit", "-m", "my message"]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// ParseCommandList parses a command that can be either a string or a list.
// This handles the two formats from configuration files:
//   - String format: "crontab -u deploy ./config/crontab"
//   - List format: ["crontab", "-u", "deploy", "./config/crontab"]
func ParseCommandList(cmd interface{}) ([]string, error) {
	switch v := cmd.(type) {
	case string:
		return ParseCommandString(v)
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command list item %d is not a string: %T", i, item)
			}
			parts[i] = str
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return parts, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("invalid command type: %T (must be string or list)", cmd)
	}
}

// Quote joins arguments into a single string safe to pass to a POSIX shell
func Quote(args ...string) string {
	return shellquote.Join(args...)
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["git", "commit", "-m", "my message"] -> "git commit -m 'my message'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}
