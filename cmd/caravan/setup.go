package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"caravan/internal/output"
	"caravan/internal/provision"
	"caravan/internal/scm"

	"github.com/spf13/cobra"
)

var (
	setupFlags   appFlags
	githubToken  string
	githubAPI    string
	webhookURL   string
	unitDir      string
	saveToken    bool
	forgetToken  bool
	printConfig  bool
	starterApp   string
	starterUser  string
	starterRepo  string
	starterHosts []string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prepare servers and GitHub for an application",
	Long: `Prepare every server and the GitHub repository for deploying the application.

This command will:
- Create deploy_to/releases and the shared directories on every host
- Generate an ed25519 deploy key on each host and trust the git host
- Register the deploy keys with the GitHub repository (read-only)
- Render and enable the systemd unit on app hosts (when service is configured)
- Register a push webhook pointing at --webhook-url

A GitHub token is read from --github-token, $GITHUB_TOKEN, $GH_TOKEN or the
OS keyring. Without one the GitHub steps are skipped.

With --print-config a starter config is written to stdout instead.`,
	Example: `  caravan setup --config deploy/sample.yaml --webhook-url https://deploy.example.com
  caravan setup --github-token ghp_xxx --save-token
  caravan setup --print-config --app sample --user master --repo git@github.com:example/sample.git > caravan.yaml`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	addAppFlags(setupCmd, &setupFlags)

	flags := setupCmd.Flags()
	flags.StringVar(&githubToken, "github-token", "", "GitHub token with admin access to the repository")
	flags.StringVar(&githubAPI, "github-api", "", "GitHub API base URL (GitHub Enterprise)")
	flags.StringVar(&webhookURL, "webhook-url", getEnvOrDefault("CARAVAN_WEBHOOK_URL", ""), "Public base URL of caravan serve")
	flags.StringVar(&unitDir, "unit-dir", provision.DefaultUnitDir, "Directory systemd units are installed in")
	flags.BoolVar(&saveToken, "save-token", false, "Store the GitHub token in the OS keyring")
	flags.BoolVar(&forgetToken, "forget-token", false, "Remove the stored GitHub token and exit")

	flags.BoolVar(&printConfig, "print-config", false, "Print a starter config and exit")
	flags.StringVar(&starterApp, "app", "", "Application name for --print-config")
	flags.StringVar(&starterUser, "user", "deploy", "Deploy user for --print-config")
	flags.StringVar(&starterRepo, "repo", "", "Repository URL for --print-config")
	flags.StringSliceVar(&starterHosts, "host", nil, "Server for --print-config (repeatable)")
}

func runSetup(cmd *cobra.Command, args []string) error {
	printer := newPrinter()

	if forgetToken {
		if err := scm.ForgetToken(); err != nil {
			return err
		}
		printer.Success("GitHub token removed from keyring")
		return nil
	}

	if printConfig {
		if starterApp == "" || starterRepo == "" {
			return fmt.Errorf("--print-config requires --app and --repo")
		}
		data, err := provision.StarterConfig(starterApp, starterUser, starterRepo, starterHosts)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	spec, err := setupFlags.load()
	if err != nil {
		return err
	}

	opts := provision.Options{
		WebhookURL: webhookURL,
		UnitDir:    unitDir,
		Reporter:   printer,
	}

	token := scm.LookupToken(githubToken)
	if token == "" {
		token = spec.GitHub.Token
	}
	if token != "" {
		var ghOpts []scm.GitHubOption
		if githubAPI != "" {
			ghOpts = append(ghOpts, scm.WithBaseURL(githubAPI))
		}
		gh, err := scm.NewGitHub(token, ghOpts...)
		if err != nil {
			return err
		}
		opts.GitHub = gh

		if saveToken {
			if err := scm.StoreToken(token); err != nil {
				return err
			}
			printer.Success("GitHub token saved to keyring")
		}
	} else {
		printer.Warn("No GitHub token found, deploy keys and webhook must be added by hand")
	}

	executor := newExecutor(spec)
	defer executor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer.Heading(fmt.Sprintf("Setting up %s on %d host(s)", spec.Name, len(spec.Servers)))

	sum, err := provision.New(spec, executor, opts).Run(ctx)
	if err != nil {
		return err
	}

	printSummary(printer, sum)
	return nil
}

func printSummary(printer *output.Printer, sum *provision.Summary) {
	printer.Infof("")

	if len(sum.DeployKeys) > 0 {
		hosts := make([]string, 0, len(sum.DeployKeys))
		for h := range sum.DeployKeys {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)

		rows := make([][]string, 0, len(hosts))
		for _, h := range hosts {
			rows = append(rows, []string{h, sum.DeployKeys[h]})
		}
		printer.Table([]string{"HOST", "DEPLOY KEY"}, rows)
	}

	if sum.UnitPath != "" {
		printer.Mutedf("systemd unit: %s", sum.UnitPath)
	}
	if sum.WebhookURL != "" {
		printer.Mutedf("webhook: %s", sum.WebhookURL)
	}
	if sum.GeneratedSecret != "" {
		printer.Infof("")
		printer.Warn("A webhook secret was generated. Add it to the config before running caravan serve:")
		printer.Infof("  webhook:\n    secret: %s", sum.GeneratedSecret)
	}
}
