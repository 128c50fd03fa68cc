package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"caravan/internal/config"
	"caravan/internal/history"
	"caravan/internal/logging"
	"caravan/internal/server"
	"caravan/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	appsDir  string
	host     string
	port     int
	testMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server that deploys applications on GitHub push events.

Every config file in the apps directory is served. A push to an application's
branch starts a deploy in the background; a second push while one is running
is rejected with 429.`,
	Example: `  caravan serve --apps-dir /etc/caravan/apps
  caravan serve --host 0.0.0.0 --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&appsDir, "apps-dir", getEnvOrDefault("CARAVAN_APPS_DIR", ""), "Directory of application configs (default: ./apps, $XDG_CONFIG_HOME/caravan/apps, /etc/caravan/apps)")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("CARAVAN_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("CARAVAN_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("CARAVAN_TEST_MODE") == "1", "Disable rate limiting")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.GetLogger("serve")

	dir := appsDir
	if dir == "" {
		found, err := fileutil.FindAppsDir()
		if err != nil {
			return err
		}
		dir = found
	}

	logger.Info().Str("dir", dir).Msg("Loading application configs")
	registry, err := config.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load application configs: %w", err)
	}
	if registry.Count() == 0 {
		logger.Warn().Str("dir", dir).Msg("No applications configured, the server will not deploy anything")
	}

	path := dbPath
	if path == "" {
		path = history.DefaultPath()
	}
	logger.Info().Str("db", path).Msg("Opening release history")
	hist, err := history.NewHistory(path)
	if err != nil {
		return fmt.Errorf("failed to open release history: %w", err)
	}
	defer hist.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newPrinter()
	printer.Success(fmt.Sprintf("Serving %s on http://%s:%d", formatCount(registry.Count(), "application"), host, port))

	srv := server.NewServer(registry, hist, nil, testMode)
	if err := srv.Start(ctx, host, port); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}
