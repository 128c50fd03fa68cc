package provision

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"caravan/internal/config"
	"caravan/internal/logging"
	"caravan/internal/release"
	"caravan/internal/remote"
	"caravan/internal/scm"
	"caravan/internal/security"
	"caravan/pkg/cmdutil"
	"caravan/pkg/templates"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// DefaultUnitDir is where systemd units are installed
const DefaultUnitDir = "/etc/systemd/system"

// DefaultKeyFile is the deploy key location, relative to the remote home
const DefaultKeyFile = ".ssh/id_ed25519"

// Runner is the part of the remote executor provisioning needs
type Runner interface {
	Run(ctx context.Context, group remote.HostGroup, command string) (remote.Results, error)
	Upload(ctx context.Context, group remote.HostGroup, localPath, remotePath string, recursive bool) (remote.Results, error)
	Capture(ctx context.Context, host remote.Host, command string) (string, error)
}

// GitHub registers deploy keys and webhooks. *scm.GitHub satisfies it.
type GitHub interface {
	EnsureDeployKey(ctx context.Context, owner, repo, title, key string) (bool, error)
	EnsureWebhook(ctx context.Context, owner, repo, hookURL, secret string) (bool, error)
}

// Reporter receives one line per step. *output.Printer satisfies it.
type Reporter interface {
	Success(msg string)
	Skip(msg string)
	Fail(msg string)
}

// Options configures a Provisioner
type Options struct {
	// GitHub enables deploy key upload and webhook creation when set
	GitHub GitHub

	// WebhookURL is the public base URL of `caravan serve`
	WebhookURL string

	// KeyFile overrides DefaultKeyFile. Relative paths are under $HOME.
	KeyFile string

	// UnitDir overrides DefaultUnitDir
	UnitDir string

	Reporter Reporter
}

// Summary describes what a provisioning run did
type Summary struct {
	// DeployKeys maps host name to its public deploy key
	DeployKeys map[string]string

	// WebhookURL is the registered push endpoint, empty when skipped
	WebhookURL string

	// GeneratedSecret is set when the application had no webhook secret.
	// It must be copied into webhook.secret for the server to accept pushes.
	GeneratedSecret string

	// UnitPath is the installed systemd unit, empty when skipped
	UnitPath string
}

// Provisioner prepares hosts for their first deploy
type Provisioner struct {
	spec     *config.ApplicationSpec
	runner   Runner
	opts     Options
	layout   release.Layout
	hosts    remote.HostGroup
	reporter Reporter
	logger   zerolog.Logger
}

// New creates a provisioner for spec
func New(spec *config.ApplicationSpec, runner Runner, opts Options) *Provisioner {
	if opts.KeyFile == "" {
		opts.KeyFile = DefaultKeyFile
	}
	if opts.UnitDir == "" {
		opts.UnitDir = DefaultUnitDir
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}

	return &Provisioner{
		spec:     spec,
		runner:   runner,
		opts:     opts,
		layout:   release.NewLayout(spec.DeployTo),
		hosts:    spec.HostGroup(),
		reporter: reporter,
		logger:   logging.GetLogger("provision").With().Str("application", spec.Name).Logger(),
	}
}

// Run executes every setup step in order, stopping at the first failure.
// Steps are idempotent, so Run can be repeated after fixing a problem.
func (p *Provisioner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{DeployKeys: make(map[string]string)}

	steps := []struct {
		name string
		fn   func(context.Context, *Summary) error
	}{
		{"creating deploy directories", p.ensureDirectories},
		{"setting up deploy keys", p.ensureDeployKeys},
		{"uploading deploy keys", p.uploadDeployKeys},
		{"installing service", p.installService},
		{"creating webhook", p.createWebhook},
	}

	for _, step := range steps {
		p.logger.Info().Str("step", step.name).Msg("Provisioning")
		if err := step.fn(ctx, sum); err != nil {
			p.reporter.Fail(step.name)
			return sum, fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return sum, nil
}

// ensureDirectories creates the deploy tree and shared linked paths
func (p *Provisioner) ensureDirectories(ctx context.Context, _ *Summary) error {
	dirs := []string{p.layout.ReleasesPath(), p.layout.SharedPath()}
	for _, d := range p.spec.LinkedDirs {
		dirs = append(dirs, p.layout.SharedPathFor(d))
	}
	for _, f := range p.spec.LinkedFiles {
		dirs = append(dirs, path.Dir(p.layout.SharedPathFor(f)))
	}

	if _, err := p.runner.Run(ctx, p.hosts, cmdutil.Quote(append([]string{"mkdir", "-p"}, dirs...)...)); err != nil {
		return err
	}
	p.reporter.Success(fmt.Sprintf("Created %s on %d host(s)", p.layout.DeployTo, len(p.hosts)))

	for _, f := range p.spec.LinkedFiles {
		p.logger.Warn().Str("path", p.layout.SharedPathFor(f)).Msg("Linked file must be created before the first deploy")
	}
	return nil
}

// ensureDeployKeys generates an ed25519 key on each host that lacks one and
// trusts the repository host
func (p *Provisioner) ensureDeployKeys(ctx context.Context, sum *Summary) error {
	if p.spec.UsesLocalSource() {
		p.reporter.Skip("Deploy keys (local source)")
		return nil
	}

	key := p.keyPathExpr()
	script := []string{
		`mkdir -p "$HOME/.ssh"`,
		`chmod 700 "$HOME/.ssh"`,
		fmt.Sprintf("{ test -f %[1]s || ssh-keygen -q -t ed25519 -N '' -C %[2]s -f %[1]s; }",
			key, cmdutil.Quote("caravan-"+p.spec.Name)),
	}
	if host := RepoHost(p.spec.RepoURL); host != "" {
		script = append(script, fmt.Sprintf(
			`{ ssh-keygen -F %[1]s >/dev/null 2>&1 || ssh-keyscan -H %[1]s >> "$HOME/.ssh/known_hosts" 2>/dev/null; }`,
			cmdutil.Quote(host)))
	}
	script = append(script, "cat "+key+".pub")

	for _, host := range p.hosts {
		out, err := p.runner.Capture(ctx, host, strings.Join(script, " && "))
		if err != nil {
			return fmt.Errorf("host %s: %w", host.Name, err)
		}
		pub, err := parsePublicKey(out)
		if err != nil {
			return fmt.Errorf("host %s: %w", host.Name, err)
		}
		sum.DeployKeys[host.Name] = pub
		p.reporter.Success(fmt.Sprintf("Deploy key on %s", host.Name))
	}
	return nil
}

// uploadDeployKeys registers each host key as a read-only GitHub deploy key
func (p *Provisioner) uploadDeployKeys(ctx context.Context, sum *Summary) error {
	owner, repo, ok := scm.ParseGitHubURL(p.spec.RepoURL)
	if p.opts.GitHub == nil || !ok || len(sum.DeployKeys) == 0 {
		p.reporter.Skip("GitHub deploy keys")
		return nil
	}

	for _, host := range p.hosts {
		pub, found := sum.DeployKeys[host.Name]
		if !found {
			continue
		}
		title := fmt.Sprintf("caravan %s@%s", p.spec.Name, host.Name)
		created, err := p.opts.GitHub.EnsureDeployKey(ctx, owner, repo, title, pub)
		if err != nil {
			return err
		}
		if created {
			p.reporter.Success(fmt.Sprintf("Uploaded deploy key %q", title))
		} else {
			p.reporter.Success(fmt.Sprintf("Deploy key %q already on GitHub", title))
		}
	}
	return nil
}

// installService renders the systemd unit, uploads it to every app host
// and enables it
func (p *Provisioner) installService(ctx context.Context, sum *Summary) error {
	svc := p.spec.Service
	if svc.Name == "" || svc.ExecStart == "" {
		p.reporter.Skip("Systemd service (service.name and service.exec_start unset)")
		return nil
	}

	vars := p.spec.Vars()
	execStart, err := config.Expand(svc.ExecStart, vars)
	if err != nil {
		return err
	}
	env := make([]string, len(svc.Environment))
	for i, e := range svc.Environment {
		if env[i], err = config.Expand(e, vars); err != nil {
			return err
		}
	}

	unit, err := templates.RenderSystemdService(templates.SystemdUnit{
		Description: fmt.Sprintf("%s (deployed by caravan)", p.spec.Name),
		User:        p.spec.User,
		WorkingDir:  p.layout.CurrentPath(),
		ExecStart:   execStart,
		Environment: env,
	})
	if err != nil {
		return fmt.Errorf("rendering systemd unit: %w", err)
	}

	local, err := writeTemp(unitName(svc.Name), unit)
	if err != nil {
		return err
	}
	defer os.Remove(local)

	group := p.hosts.WithRoles(config.DefaultRole)
	staged := path.Join(p.layout.DeployTo, unitName(svc.Name))
	target := path.Join(p.opts.UnitDir, unitName(svc.Name))

	if _, err := p.runner.Upload(ctx, group, local, staged, false); err != nil {
		return err
	}

	install := strings.Join([]string{
		privileged(svc.UseSudo, "install", "-m", "0644", staged, target),
		cmdutil.Quote("rm", "-f", staged),
		privileged(svc.UseSudo, "systemctl", "daemon-reload"),
		privileged(svc.UseSudo, "systemctl", "enable", unitName(svc.Name)),
	}, " && ")
	if _, err := p.runner.Run(ctx, group, install); err != nil {
		return err
	}

	sum.UnitPath = target
	p.reporter.Success(fmt.Sprintf("Installed %s", target))
	return nil
}

// createWebhook registers the push webhook, generating a secret when the
// application has none
func (p *Provisioner) createWebhook(ctx context.Context, sum *Summary) error {
	owner, repo, ok := scm.ParseGitHubURL(p.spec.RepoURL)
	if p.opts.GitHub == nil || p.opts.WebhookURL == "" || !ok {
		p.reporter.Skip("GitHub webhook")
		return nil
	}

	secret := p.spec.Webhook.Secret
	if secret == "" {
		generated, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		secret = generated
		sum.GeneratedSecret = generated
	}

	hookURL := WebhookEndpoint(p.opts.WebhookURL, p.spec.Name)
	created, err := p.opts.GitHub.EnsureWebhook(ctx, owner, repo, hookURL, secret)
	if err != nil {
		return err
	}

	sum.WebhookURL = hookURL
	if created {
		p.reporter.Success(fmt.Sprintf("Created webhook %s", hookURL))
	} else {
		// An existing hook keeps its own secret
		sum.GeneratedSecret = ""
		p.reporter.Success(fmt.Sprintf("Webhook %s already exists", hookURL))
	}
	return nil
}

// keyPathExpr returns the deploy key path as a shell word
func (p *Provisioner) keyPathExpr() string {
	if path.IsAbs(p.opts.KeyFile) {
		return cmdutil.Quote(p.opts.KeyFile)
	}
	return `"$HOME"/` + cmdutil.Quote(p.opts.KeyFile)
}

// WebhookEndpoint returns the push endpoint of application under baseURL
func WebhookEndpoint(baseURL, application string) string {
	return strings.TrimRight(baseURL, "/") + "/in/" + application
}

// RepoHost returns the SSH host of a repository URL, or "" for non-SSH URLs
func RepoHost(repoURL string) string {
	switch {
	case strings.HasPrefix(repoURL, "ssh://"):
		rest := strings.TrimPrefix(repoURL, "ssh://")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if i := strings.LastIndexByte(rest, '@'); i >= 0 {
			rest = rest[i+1:]
		}
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			rest = rest[:i]
		}
		return rest
	case strings.Contains(repoURL, "://"):
		return ""
	}

	// scp-like user@host:path
	at := strings.IndexByte(repoURL, '@')
	colon := strings.IndexByte(repoURL, ':')
	if colon < 0 || at > colon {
		return ""
	}
	return repoURL[at+1 : colon]
}

// parsePublicKey extracts the authorized_keys line from command output
func parsePublicKey(out string) (string, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(last)); err != nil {
		return "", fmt.Errorf("invalid public key %q: %w", last, err)
	}
	return last, nil
}

func unitName(name string) string {
	if strings.HasSuffix(name, ".service") {
		return name
	}
	return name + ".service"
}

func privileged(useSudo bool, args ...string) string {
	if useSudo {
		args = append([]string{"sudo", "-n"}, args...)
	}
	return cmdutil.Quote(args...)
}

func writeTemp(name, content string) (string, error) {
	f, err := os.CreateTemp("", "caravan-*-"+filepath.Base(name))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}

type nopReporter struct{}

func (nopReporter) Success(string) {}
func (nopReporter) Skip(string)    {}
func (nopReporter) Fail(string)    {}
