package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tributary-ai/edge-router/internal/bots"
	"github.com/tributary-ai/edge-router/internal/config"
	"github.com/tributary-ai/edge-router/internal/origin"
	"github.com/tributary-ai/edge-router/internal/pathpolicy"
	"github.com/tributary-ai/edge-router/internal/routing"
	"github.com/tributary-ai/edge-router/internal/security"
	"github.com/tributary-ai/edge-router/internal/server"
	"github.com/tributary-ai/edge-router/internal/types"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Application represents the main application
type Application struct {
	config *config.Config
	router *routing.Router
	server *server.Server
	logger *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return newApplication(cfg, logger)
}

func newApplication(cfg *config.Config, logger *logrus.Logger) (*Application, error) {
	routerInstance, err := buildRouter(cfg, logger)
	if err != nil {
		return nil, err
	}

	fetcher := origin.NewHTTPFetcher(cfg.ToFetcherConfig(), logger)

	serverConfig := cfg.ToServerConfig()
	serverConfig.Version = version
	serverInstance, err := server.NewServer(routerInstance, fetcher, serverConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config: cfg,
		router: routerInstance,
		server: serverInstance,
		logger: logger,
	}, nil
}

// buildRouter wires origin resolution, bot detection and the cookie path
// policy into a router.
func buildRouter(cfg *config.Config, logger *logrus.Logger) (*routing.Router, error) {
	resolver, err := buildResolver(cfg, logger)
	if err != nil {
		return nil, err
	}

	detector, err := bots.NewDetector(cfg.Routing.BotPatterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot detector: %w", err)
	}

	paths, err := pathpolicy.New(cfg.Routing.NoCookiePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie path policy: %w", err)
	}

	opts := cfg.ToRoutingOptions()
	opts.Origins = resolver
	opts.Bots = detector
	opts.Paths = paths

	routerInstance, err := routing.NewRouter(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"public_branches": cfg.Routing.PublicBranches,
		"primary":         routerInstance.Primary(),
		"bot_patterns":    len(bots.DefaultPatterns) + len(cfg.Routing.BotPatterns),
		"no_cookie_paths": len(cfg.Routing.NoCookiePaths),
	}).Info("Router configured")

	return routerInstance, nil
}

// buildResolver consults static origins first and falls back to DNS for
// preview branches when a suffix is configured.
func buildResolver(cfg *config.Config, logger *logrus.Logger) (origin.Resolver, error) {
	chain := origin.ChainResolver{origin.NewStaticResolver(cfg.Origins.Static)}

	if cfg.Origins.DNS.Suffix != "" {
		dnsResolver, err := origin.NewDNSResolver(&cfg.Origins.DNS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create dns resolver: %w", err)
		}
		chain = append(chain, dnsResolver)
		logger.WithField("suffix", cfg.Origins.DNS.Suffix).Info("DNS branch discovery enabled")
	}

	return chain, nil
}

// Run starts the application and blocks until ctx is cancelled, a shutdown
// signal arrives or the server fails.
func (app *Application) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", ":"+app.config.Server.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", app.config.Server.Port, err)
	}
	return app.serve(ctx, l)
}

func (app *Application) serve(ctx context.Context, l net.Listener) error {
	app.logger.WithField("version", version).Info("Starting edge router")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.Serve(l)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		app.logger.Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// cliLogger is used by the one-shot commands, which keep stdout for their
// own output.
func cliLogger(cfg *config.Config, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logging := cfg.Logging
	logging.Output = "stderr"
	if err := setupLogger(logger, logging); err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	if logger.GetLevel() > logrus.WarnLevel {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "edge-router",
		Short: "Cookie-sticky environment router for a CDN edge",
		Long: `edge-router assigns visitors to one of the public environments by weight,
keeps them there with an env cookie, lets testers reach any deployed branch
with ?branch=<name> or a branch cookie, and pins crawlers to the primary
environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newDecideCmd(&configPath),
		newTokenCmd(&configPath),
		newConfigCmd(&configPath),
		newVersionCmd(),
	)

	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the edge router",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(*configPath)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newDecideCmd(configPath *string) *cobra.Command {
	var req types.DecisionRequest

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Show the routing decision for a request without proxying it",
		Example: `  edge-router decide --path /pricing --cookie env=beta
  edge-router decide --query branch=feature-x
  edge-router decide --user-agent "Googlebot/2.1"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := cliLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			routerInstance, err := buildRouter(cfg, logger)
			if err != nil {
				return err
			}

			plan, err := routerInstance.Route(cmd.Context(), req.RequestContext())
			if err != nil {
				if errors.Is(err, routing.ErrEnvironmentNotFound) {
					return fmt.Errorf("no origin for this request: %w", err)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(types.NewDecisionResponse(plan))
		},
	}

	cmd.Flags().StringVar(&req.Path, "path", "/", "Request path")
	cmd.Flags().StringVarP(&req.Query, "query", "q", "", "Raw query string, e.g. branch=feature-x")
	cmd.Flags().StringToStringVar(&req.Cookies, "cookie", nil, "Request cookie as name=value (repeatable)")
	cmd.Flags().StringVar(&req.CookieHeader, "cookie-header", "", "Raw Cookie header")
	cmd.Flags().StringVarP(&req.UserAgent, "user-agent", "A", "", "User-Agent header")

	return cmd
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject     string
		permissions []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := cliLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			auth := security.NewAuthenticator(cfg.ToAuthConfig(), logger)
			token, err := auth.GenerateJWT(subject, permissions, map[string]string{"issued_by": "cli"})
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Token subject")
	cmd.Flags().StringSliceVarP(&permissions, "permissions", "p", security.AllPermissions, "Granted permissions")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			data, err := cfg.Redacted().YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edge-router %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
