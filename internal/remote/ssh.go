package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"sync"
	"time"

	"caravan/internal/logging"
	"caravan/internal/security"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultConnectTimeout bounds the TCP connect and SSH handshake
const DefaultConnectTimeout = 30 * time.Second

// SSHConfig holds client settings shared by every host
type SSHConfig struct {
	// User is used for hosts without their own user
	User string

	// KeyFile is a private key in OpenSSH or PEM format
	KeyFile string

	// KnownHostsFile defaults to ~/.ssh/known_hosts
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification
	InsecureIgnoreHostKey bool

	ConnectTimeout time.Duration

	// UseAgent adds keys from the agent at $SSH_AUTH_SOCK
	UseAgent bool
}

// SSHTransport runs commands over SSH and uploads files over SFTP.
// One client connection is kept per host for the lifetime of the transport.
type SSHTransport struct {
	cfg    SSHConfig
	logger zerolog.Logger

	mu        sync.Mutex
	clients   map[string]*ssh.Client
	agentConn net.Conn
}

// NewSSHTransport creates an SSH transport. Connections are opened lazily.
func NewSSHTransport(cfg SSHConfig) *SSHTransport {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &SSHTransport{
		cfg:     cfg,
		logger:  logging.GetLogger("ssh"),
		clients: make(map[string]*ssh.Client),
	}
}

// Run executes command in a new session. Cancelling ctx kills the session.
func (t *SSHTransport) Run(ctx context.Context, host Host, command string) (*ExecutionResult, error) {
	client, err := t.client(host)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return &ExecutionResult{Host: host, ExitCode: -1, Duration: time.Since(start)}, ctx.Err()
	case err = <-done:
	}

	res := &ExecutionResult{
		Host:     host,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("ssh session: %w", err)
	}

	return res, nil
}

// Upload copies localPath to remotePath over SFTP. Directories require
// recursive and are copied without .git; remotePath becomes the copy.
func (t *SSHTransport) Upload(ctx context.Context, host Host, localPath, remotePath string, recursive bool) (*ExecutionResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("upload source: %w", err)
	}
	if info.IsDir() && !recursive {
		return nil, fmt.Errorf("upload source %s is a directory (set recursive)", localPath)
	}

	client, err := t.client(host)
	if err != nil {
		return nil, err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp: %w", err)
	}
	defer sc.Close()

	start := time.Now()
	if info.IsDir() {
		err = uploadDir(ctx, sc, localPath, remotePath)
	} else {
		err = sc.MkdirAll(path.Dir(remotePath))
		if err == nil {
			err = uploadFile(sc, localPath, remotePath)
		}
	}

	res := &ExecutionResult{Host: host, Duration: time.Since(start)}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}
	if err != nil {
		res.ExitCode = 1
		res.Stderr = err.Error()
	}
	return res, nil
}

// Close closes every cached connection
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for key, client := range t.clients {
		if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		delete(t.clients, key)
	}
	if t.agentConn != nil {
		errs = append(errs, t.agentConn.Close())
		t.agentConn = nil
	}
	return errors.Join(errs...)
}

func (t *SSHTransport) userFor(host Host) string {
	if host.User != "" {
		return host.User
	}
	if t.cfg.User != "" {
		return t.cfg.User
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "root"
}

func (t *SSHTransport) client(host Host) (*ssh.Client, error) {
	login := t.userFor(host)
	key := login + "@" + host.Address()

	t.mu.Lock()
	if client, ok := t.clients[key]; ok {
		t.mu.Unlock()
		return client, nil
	}
	t.mu.Unlock()

	cfg, err := t.clientConfig(login)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().Str("host", host.Name).Str("address", host.Address()).Str("user", login).Msg("Connecting")
	client, err := ssh.Dial("tcp", host.Address(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", host.Address(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.clients[key]; ok {
		// Lost a race with a concurrent dial
		client.Close()
		return existing, nil
	}
	t.clients[key] = client
	return client, nil
}

func (t *SSHTransport) clientConfig(login string) (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod

	if t.cfg.KeyFile != "" {
		signer, err := t.loadSigner(t.cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if t.cfg.UseAgent {
		if signers := t.agentSigners(); signers != nil {
			auths = append(auths, ssh.PublicKeysCallback(signers))
		}
	}

	if len(auths) == 0 {
		return nil, fmt.Errorf("no SSH authentication available: set ssh.key_file or start ssh-agent")
	}

	hostKeyCallback, err := t.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            login,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.cfg.ConnectTimeout,
	}, nil
}

func (t *SSHTransport) loadSigner(keyFile string) (ssh.Signer, error) {
	if err := security.EnsureSecurePermissions(keyFile, security.PermSSHKey); err != nil {
		t.logger.Warn().Err(err).Msg("SSH key permissions")
	}

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("SSH key %s is passphrase protected, load it into ssh-agent instead", keyFile)
		}
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	return signer, nil
}

func (t *SSHTransport) agentSigners() func() ([]ssh.Signer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.agentConn == nil {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			t.logger.Debug().Err(err).Msg("ssh-agent unavailable")
			return nil
		}
		t.agentConn = conn
	}

	return agent.NewClient(t.agentConn).Signers
}

func (t *SSHTransport) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	file := t.cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts from %s: %w", file, err)
	}
	return callback, nil
}

func uploadDir(ctx context.Context, sc *sftp.Client, localDir, remoteDir string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))

		switch {
		case d.IsDir():
			return sc.MkdirAll(target)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			_ = sc.Remove(target)
			return sc.Symlink(link, target)
		case d.Type().IsRegular():
			return uploadFile(sc, p, target)
		default:
			return nil
		}
	})
}

func uploadFile(sc *sftp.Client, localFile, remoteFile string) error {
	src, err := os.Open(localFile)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	dst, err := sc.OpenFile(remoteFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", remoteFile, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", remoteFile, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return sc.Chmod(remoteFile, info.Mode().Perm())
}
