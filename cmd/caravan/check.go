package main

import (
	"fmt"

	"caravan/internal/deployment"

	"github.com/spf13/cobra"
)

var checkFlags appFlags

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and run deploy:check",
	Long: `Validate the application config, test that every host is reachable, then
create the directory layout on every host and verify that each linked file
exists in shared/. No release is created.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	addAppFlags(checkCmd, &checkFlags)
}

func runCheck(cmd *cobra.Command, args []string) error {
	spec, err := checkFlags.load()
	if err != nil {
		return err
	}

	printer := newPrinter()
	printer.Success(fmt.Sprintf("Config %s is valid", spec.Path))

	hist, err := openHistory(spec)
	if err != nil {
		return err
	}
	defer hist.Close()

	executor := newExecutor(spec)
	defer executor.Close()

	ctx := cmd.Context()
	unreachable := 0
	for _, host := range spec.HostGroup() {
		ok, err := executor.Test(ctx, host, "true")
		if err != nil || !ok {
			printer.Fail(fmt.Sprintf("connect to %s", host))
			unreachable++
			continue
		}
		printer.Success(fmt.Sprintf("connect to %s", host))
	}
	if unreachable > 0 {
		return fmt.Errorf("%s unreachable", formatCount(unreachable, "host"))
	}

	deployer, err := deployment.NewDeployer(spec, executor, hist, deployment.Options{Reporter: printer})
	if err != nil {
		return err
	}
	if err := deployer.Check(ctx); err != nil {
		return err
	}

	bindings := deployer.Hooks().Bindings()
	if len(bindings) == 0 {
		printer.Mutedf("No hooks registered")
		return nil
	}

	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, []string{string(b.Stage), string(b.Position), b.Task.Name()})
	}
	printer.Infof("")
	printer.Table([]string{"STAGE", "POSITION", "TASK"}, rows)
	return nil
}
