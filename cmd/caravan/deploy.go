package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caravan/internal/deployment"
	"caravan/internal/output"

	"github.com/spf13/cobra"
)

var (
	deployFlags appFlags
	deployEnv   []string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new release",
	Long: `Deploy a new release of the application.

Stages run in order: starting, updated, publishing, published, finishing.
Hooks bound to a stage run before or after its core action. If any stage
fails, current is re-pointed at the previous release, the finishing_rollback
hooks run and the command exits non-zero.`,
	Example: `  caravan deploy --config deploy/sample.yaml
  caravan deploy --branch release-2.4 --env RAILS_ENV=production
  BRANCH=hotfix caravan deploy
  caravan deploy --local`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	addAppFlags(deployCmd, &deployFlags)
	deployCmd.Flags().StringVar(&deployFlags.branch, "branch", "", "Branch to deploy (default: branch setting, $BRANCH or the local checkout)")
	deployCmd.Flags().BoolVar(&deployFlags.local, "local", false, "Upload the local working copy instead of fetching repo_url")
	deployCmd.Flags().StringArrayVar(&deployEnv, "env", nil, "KEY=VALUE exported to every task command (repeatable)")
}

func addAppFlags(cmd *cobra.Command, f *appFlags) {
	cmd.Flags().StringVarP(&f.config, "config", "c", getEnvOrDefault("CARAVAN_CONFIG", ""), "Path to the application config (default: search ./caravan.yaml, ./config/, $XDG_CONFIG_HOME/caravan, /etc/caravan)")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	spec, err := deployFlags.load()
	if err != nil {
		return err
	}
	env, err := parseEnv(deployEnv)
	if err != nil {
		return err
	}

	hist, err := openHistory(spec)
	if err != nil {
		return err
	}
	defer hist.Close()

	executor := newExecutor(spec)
	defer executor.Close()

	printer := newPrinter()
	deployer, err := deployment.NewDeployer(spec, executor, hist, deployment.Options{
		Env:      env,
		Reporter: printer,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer.Heading(fmt.Sprintf("Deploying %s (%s) to %d host(s)", spec.Name, spec.Branch, len(spec.Servers)))
	start := time.Now()

	rec, err := deployer.Deploy(ctx)
	if err != nil {
		reportFailure(printer, err)
		return err
	}

	printer.Infof("")
	printer.Success(fmt.Sprintf("Release %s is live (%s)", rec.ReleaseID, shortRev(rec.Revision)))
	printer.Mutedf("current -> %s, took %s", rec.ReleasePath, time.Since(start).Round(time.Second))
	return nil
}

// reportFailure explains what recovery did after a failed stage
func reportFailure(printer *output.Printer, err error) {
	printer.Infof("")

	var stageErr *deployment.StageError
	if !errors.As(err, &stageErr) {
		return
	}

	printer.Fail(fmt.Sprintf("Release %s failed in stage %s", stageErr.ReleaseID, stageErr.Stage))
	if stageErr.RollbackHooksRan {
		printer.Infof("Rollback hooks ran.")
	} else {
		printer.Infof("Rollback hooks did not run.")
	}
	if stageErr.CurrentRelease != "" {
		printer.Infof("current points to release %s.", stageErr.CurrentRelease)
	} else {
		printer.Infof("current does not point to any release.")
	}
	if stageErr.RecoveryErr != nil {
		printer.Warn(fmt.Sprintf("Recovery incomplete: %v", stageErr.RecoveryErr))
	}
}
