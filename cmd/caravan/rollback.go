package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"caravan/internal/deployment"

	"github.com/spf13/cobra"
)

var rollbackFlags appFlags

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Re-point current at the previous release",
	Long: `Roll back to the release before the current one.

This command will:
- Find the current release and the newest older release that was live
- Atomically switch the current symlink to that release
- Record the change in the release history and revisions.log
- Run the finishing_rollback hooks

Running it again without a new deploy leaves the active release unchanged.`,
	Example: `  caravan rollback --config deploy/sample.yaml`,
	Args:    cobra.NoArgs,
	RunE:    runRollback,
}

func init() {
	addAppFlags(rollbackCmd, &rollbackFlags)
}

func runRollback(cmd *cobra.Command, args []string) error {
	spec, err := rollbackFlags.load()
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
	manager, err := deployment.NewRollbackManager(spec, executor, hist, nil, printer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer.Heading(fmt.Sprintf("Rolling back %s", spec.Name))

	target, err := manager.Rollback(ctx)
	if err != nil {
		var noPrior *deployment.NoPriorReleaseError
		if errors.As(err, &noPrior) {
			printer.Warn("Nothing to roll back to")
		}
		return err
	}

	printer.Success(fmt.Sprintf("current -> release %s (%s)", target.ReleaseID, shortRev(target.Revision)))
	return nil
}
