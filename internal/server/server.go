package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"caravan/internal/config"
	"caravan/internal/deployment"
	"caravan/internal/history"
	"caravan/internal/logging"
	"caravan/internal/release"
	"caravan/internal/remote"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// ShutdownTimeout bounds how long Shutdown waits for open connections
	ShutdownTimeout = 10 * time.Second

	// Rate limiting
	GlobalRateLimit  = 120 // requests per hour per IP
	WebhookRateLimit = 4   // requests per minute per IP
)

// DeployFunc runs one release of spec and returns its record
type DeployFunc func(ctx context.Context, spec *config.ApplicationSpec) (*release.Record, error)

// Server receives push webhooks and reports release status
type Server struct {
	Registry    *config.Registry
	History     *history.History
	LockManager *deployment.LockManager
	Deploy      DeployFunc
	Logger      zerolog.Logger

	// TestMode disables rate limiting
	TestMode bool

	deployWg sync.WaitGroup
	httpSrv  *http.Server
}

// NewServer creates a server for the applications in registry. A nil deploy
// runs the full pipeline over SSH.
func NewServer(registry *config.Registry, hist *history.History, deploy DeployFunc, testMode bool) *Server {
	if deploy == nil {
		deploy = Pipeline(hist)
	}
	return &Server{
		Registry:    registry,
		History:     hist,
		LockManager: deployment.NewLockManager(),
		Deploy:      deploy,
		Logger:      logging.GetLogger("server"),
		TestMode:    testMode,
	}
}

// Pipeline returns a DeployFunc that deploys over SSH and records releases
// in hist
func Pipeline(hist *history.History) DeployFunc {
	return func(ctx context.Context, spec *config.ApplicationSpec) (*release.Record, error) {
		executor := remote.NewExecutor(remote.NewSSHTransport(spec.RemoteSSHConfig()), spec.ExecutorOptions())
		defer executor.Close()

		deployer, err := deployment.NewDeployer(spec, executor, hist, deployment.Options{
			Env: map[string]string{"CARAVAN_TRIGGER": "webhook"},
		})
		if err != nil {
			return nil, err
		}
		return deployer.Deploy(ctx)
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(s.requestLogger)

	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatusAll)
	r.Get("/status/{application}", s.HandleStatus)

	if !s.TestMode {
		r.With(NewWebhookRateLimitMiddleware(WebhookRateLimit, s.Logger)).Post("/in/{application}", s.HandleWebhook)
	} else {
		r.Post("/in/{application}", s.HandleWebhook)
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.Logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	s.Logger.Info().Str("addr", addr).Strs("applications", s.Registry.List()).Msg("Starting server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// WaitForDeployments blocks until every accepted deploy has finished
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown stops accepting requests and waits for in-flight deploys
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.Logger.Info().Msg("Waiting for in-flight deployments")
	s.WaitForDeployments()
	return err
}
