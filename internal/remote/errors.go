package remote

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout marks a command that exceeded the per-command timeout
	ErrTimeout = errors.New("remote command timed out")

	// ErrNoHosts is returned when a command targets an empty host group
	ErrNoHosts = errors.New("no hosts to run on")
)

// RemoteError reports a command that failed on one host. Err is set for
// transport failures and timeouts, otherwise the command exited non-zero.
type RemoteError struct {
	Host     string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Host, e.Command, e.Err)
	}

	msg := fmt.Sprintf("%s: %q exited with status %d", e.Host, e.Command, e.ExitCode)
	if detail := lastLine(e.Stderr); detail != "" {
		msg += ": " + detail
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the command was killed by the per-command timeout
func (e *RemoteError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// RemoteErrors extracts every RemoteError from err, including joined errors
func RemoteErrors(err error) []*RemoteError {
	if err == nil {
		return nil
	}

	var out []*RemoteError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			out = append(out, RemoteErrors(inner)...)
		}
		return out
	}

	var re *RemoteError
	if errors.As(err, &re) {
		out = append(out, re)
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
