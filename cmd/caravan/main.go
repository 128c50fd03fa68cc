package main

import (
	"fmt"
	"os"

	"caravan/internal/logging"
	"caravan/internal/output"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var (
	verbosity int
	dbPath    string
	logFile   string
	noColor   bool

	closeLog = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "caravan",
	Short: "Capistrano-style release orchestration",
	Long: `Caravan deploys applications into timestamped release directories over SSH.

Every deploy lands in deploy_to/releases/<id>, shared files and directories are
linked from deploy_to/shared, and deploy_to/current is switched atomically.
Stages run configurable before/after hooks; a failed stage re-points current at
the previous release and runs the finishing_rollback hooks.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		closeLog = logging.Setup(logging.Options{
			Verbosity: verbosity,
			File:      logFile,
			NoColor:   noColor || !output.ColorEnabled(os.Stderr),
		})
	},
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

func main() {
	err := rootCmd.Execute()
	closeLog()
	if err != nil {
		output.New(os.Stderr).Fail(fmt.Sprintf("Error: %v", err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetUsageTemplate(usageTemplate)

	flags := rootCmd.PersistentFlags()
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug, -vvv trace)")
	flags.StringVar(&dbPath, "db", "", "Path to the release history database (default history_db or $XDG_DATA_HOME/caravan/releases.db)")
	flags.StringVar(&logFile, "log-file", getEnvOrDefault("CARAVAN_LOG_FILE", ""), `Path to the JSON log file, "-" to disable (default $XDG_STATE_HOME/caravan/caravan.log)`)
	flags.BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable coloured output")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(releasesCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
