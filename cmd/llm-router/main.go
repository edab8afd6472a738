package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-router-waf/internal/admission"
	"github.com/tributary-ai/llm-router-waf/internal/audit"
	"github.com/tributary-ai/llm-router-waf/internal/config"
	"github.com/tributary-ai/llm-router-waf/internal/health"
	"github.com/tributary-ai/llm-router-waf/internal/metrics"
	"github.com/tributary-ai/llm-router-waf/internal/router"
	"github.com/tributary-ai/llm-router-waf/internal/server"
)

// Application bundles the gateway's process-wide runtime: config store, router, admission layer,
// and HTTP server.
type Application struct {
	store       *config.Store
	rt          *router.Router
	srv         *server.Server
	audit       *audit.Logger
	rateLimiter *admission.RateLimiter
	logger      *logrus.Logger
}

// NewApplication loads configuration, wires every package together, and constructs the HTTP
// server, without starting it.
func NewApplication(configPath string) (*Application, error) {
	logger := logrus.New()

	store, err := config.NewStore(configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := store.Snapshot()

	if err := setupLogger(logger, cfg.Observability); err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}

	m := metrics.New()
	rt := router.New(store, m, logger)

	auditLogger := audit.NewLogger(logger)
	rt.Audit = auditLogger

	authenticator := admission.NewAuthenticator(cfg.Security.APIKeys, cfg.Security.JWTSecret, logger)
	rateLimiter := buildRateLimiter(cfg.Security.RateLimit)

	adm := &admission.Admission{
		Validator: rt.Validator,
		Auth:      authenticator,
		RateLimit: rateLimiter,
		Audit:     auditLogger,
	}

	checker := &health.Checker{Store: store, Breakers: rt.Breakers}

	srvCfg := server.Config{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:    cfg.Server.RequestTimeout,
		WriteTimeout:   cfg.Server.RequestTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	srv, err := server.New(srvCfg, rt, adm, checker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build server: %w", err)
	}

	return &Application{
		store:       store,
		rt:          rt,
		srv:         srv,
		audit:       auditLogger,
		rateLimiter: rateLimiter,
		logger:      logger,
	}, nil
}

func buildRateLimiter(cfg *config.RateLimitConfig) *admission.RateLimiter {
	if cfg == nil || cfg.RequestsPerSecond <= 0 {
		return nil
	}
	return admission.NewRateLimiter(cfg.RequestsPerSecond, cfg.BurstSize, cfg.PerIP)
}

// Run starts the background sweepers and the HTTP server, blocking until a shutdown signal
// arrives or the server fails.
func (app *Application) Run() error {
	app.logger.Info("starting llm-router gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	if config.HotReloadEnabled() {
		go app.store.Watch(ctx)
	}
	go app.rt.Cache.StartSweeper(stop)
	if app.rateLimiter != nil {
		go app.rateLimiter.StartSweeper(stop)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		if err := app.srv.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	app.audit.Stop()

	app.logger.Info("shutdown complete")
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.ObservabilityConfig) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	if cfg.JSONLogging {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	logger.SetOutput(os.Stdout)
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER__SERVER__PORT            Listen port override\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER__SECURITY__API_KEYS       Comma-separated API keys\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER__OBSERVABILITY__LOG_LEVEL Log level (debug,info,warn,error)\n")
	fmt.Fprintf(os.Stderr, "  CONFIG_HOT_RELOAD                    Enable periodic config reload (1/true)\n")
	fmt.Fprintf(os.Stderr, "  CONFIG_RELOAD_INTERVAL_SECS          Reload poll interval (default 30)\n")
}

func main() {
	var (
		configPath = flag.String("config", "configs/router.yaml", "path to the router configuration file")
		showHelp   = flag.Bool("help", false, "show help message")
		version    = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}
	if *version {
		fmt.Printf("llm-router %s\n", health.Version)
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
