package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caravan/internal/logging"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures an Executor
type Options struct {
	// Timeout bounds every command on every host. Zero disables it.
	Timeout time.Duration

	// MaxParallel caps concurrent hosts. Zero runs all hosts at once.
	MaxParallel int
}

// Executor fans commands out across a host group and waits for every host
// before returning. Hosts named local or localhost use the local transport.
type Executor struct {
	remote Transport
	local  Transport
	opts   Options
	logger zerolog.Logger
}

// NewExecutor creates an executor. remote may be nil when every host is local.
func NewExecutor(remote Transport, opts Options) *Executor {
	return &Executor{
		remote: remote,
		local:  NewLocalTransport(),
		opts:   opts,
		logger: logging.GetLogger("remote"),
	}
}

// Run executes command on every host of group. The returned error joins one
// RemoteError per failed host.
func (e *Executor) Run(ctx context.Context, group HostGroup, command string) (Results, error) {
	return e.fanOut(ctx, group, command, func(ctx context.Context, t Transport, h Host) (*ExecutionResult, error) {
		return t.Run(ctx, h, command)
	})
}

// Upload copies localPath to remotePath on every host of group
func (e *Executor) Upload(ctx context.Context, group HostGroup, localPath, remotePath string, recursive bool) (Results, error) {
	label := fmt.Sprintf("upload %s -> %s", localPath, remotePath)
	return e.fanOut(ctx, group, label, func(ctx context.Context, t Transport, h Host) (*ExecutionResult, error) {
		return t.Upload(ctx, h, localPath, remotePath, recursive)
	})
}

// Capture runs command on a single host and returns its trimmed stdout
func (e *Executor) Capture(ctx context.Context, host Host, command string) (string, error) {
	results, err := e.Run(ctx, HostGroup{host}, command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(results[0].Stdout), nil
}

// Test runs command on a single host and reports whether it exited zero.
// Transport failures are returned as errors.
func (e *Executor) Test(ctx context.Context, host Host, command string) (bool, error) {
	_, err := e.Run(ctx, HostGroup{host}, command)
	if err == nil {
		return true, nil
	}
	for _, re := range RemoteErrors(err) {
		if re.Err != nil {
			return false, err
		}
	}
	return false, nil
}

// Close releases transport connections
func (e *Executor) Close() error {
	var errs []error
	if e.remote != nil {
		errs = append(errs, e.remote.Close())
	}
	errs = append(errs, e.local.Close())
	return errors.Join(errs...)
}

func (e *Executor) transportFor(h Host) (Transport, error) {
	if h.IsLocal() {
		return e.local, nil
	}
	if e.remote == nil {
		return nil, fmt.Errorf("no remote transport configured for %s", h.Name)
	}
	return e.remote, nil
}

type operation func(ctx context.Context, t Transport, h Host) (*ExecutionResult, error)

func (e *Executor) fanOut(ctx context.Context, group HostGroup, label string, op operation) (Results, error) {
	if len(group) == 0 {
		return nil, ErrNoHosts
	}

	results := make(Results, len(group))
	errs := make([]error, len(group))

	var g errgroup.Group
	if e.opts.MaxParallel > 0 {
		g.SetLimit(e.opts.MaxParallel)
	}

	for i, host := range group {
		i, host := i, host
		g.Go(func() error {
			results[i], errs[i] = e.runOne(ctx, host, label, op)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func (e *Executor) runOne(ctx context.Context, host Host, label string, op operation) (*ExecutionResult, error) {
	logger := e.logger.With().Str("host", host.Name).Logger()
	logger.Debug().Str("command", label).Msg("Running")

	cctx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	transport, err := e.transportFor(host)
	if err != nil {
		return &ExecutionResult{Host: host, ExitCode: -1}, &RemoteError{Host: host.Name, Command: label, ExitCode: -1, Err: err}
	}

	start := time.Now()
	res, err := op(cctx, transport, host)
	if res == nil {
		res = &ExecutionResult{ExitCode: -1}
	}
	res.Host = host
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	if err != nil {
		if ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, e.opts.Timeout)
		}
		logger.Error().Err(err).Str("command", label).Msg("Command did not complete")
		return res, &RemoteError{Host: host.Name, Command: label, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	}

	if res.ExitCode != 0 {
		logger.Error().
			Str("command", label).
			Int("exitCode", res.ExitCode).
			Str("stdout", res.Stdout).
			Str("stderr", res.Stderr).
			Msg("Command failed")
		return res, &RemoteError{Host: host.Name, Command: label, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	}

	logger.Trace().Str("stdout", res.Stdout).Dur("duration", res.Duration).Msg("Command succeeded")
	return res, nil
}
