// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/gymkeeper/gymkeeper/internal/api"
	"github.com/gymkeeper/gymkeeper/internal/auth"
	authpg "github.com/gymkeeper/gymkeeper/internal/auth/postgres"
	authsqlite "github.com/gymkeeper/gymkeeper/internal/auth/sqlite"
	"github.com/gymkeeper/gymkeeper/internal/captcha"
	"github.com/gymkeeper/gymkeeper/internal/config"
	"github.com/gymkeeper/gymkeeper/internal/logging"
	"github.com/gymkeeper/gymkeeper/internal/observability"
	"github.com/gymkeeper/gymkeeper/internal/store"
	"github.com/gymkeeper/gymkeeper/internal/xdg"
	"github.com/gymkeeper/gymkeeper/pkg/errutil"
)

const serviceName = "gymkeeper"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP API and the observability server. The process shuts
down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	cmd.Flags().String("addr", config.DefaultServerAddr, "API listen address")
	cmd.Flags().String("database-url", "", "postgres:// or sqlite3:// URL (default: sqlite in XDG_DATA_HOME/gymkeeper)")
	cmd.Flags().String("metrics-addr", config.DefaultObservabilityAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().Bool("auto-migrate", false, "apply pending migrations before serving")

	return cmd
}

// runServeWithDeps starts the servers with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ConfigLoader == nil {
		deps.ConfigLoader = config.Load
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, isReady observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, isReady, logger)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}

	cfg, err := deps.ConfigLoader(configOptions(cmd))
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	dialect, err := store.DialectFromURL(cfg.Database.URL)
	if err != nil {
		return err
	}
	logger.Info("starting gymkeeper",
		"addr", cfg.Server.Addr,
		"database", string(dialect),
		"metrics_addr", cfg.Observability.Addr,
	)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("token signing secret is not configured; login and authenticated routes will fail",
			"env", "JWT_SECRET")
	}

	if dialect == store.DialectSQLite {
		if err := ensureSQLiteDir(cfg.Database.URL); err != nil {
			return err
		}
	}

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	accounts, closeDB, err := openAccounts(ctx, cfg, dialect, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Observability.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Observability.Addr, ready.Load, logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	handler, err := buildHandler(cfg, accounts, deps.CaptchaGenerator, metrics, logger)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("API_LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ready.Store(true)
	cmd.Println("GymKeeper API listening on " + listener.Addr().String())
	logger.Info("api server ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-serveErr:
		if ok && err != nil {
			runErr = oops.Code("API_SERVE_FAILED").Wrap(err)
			errutil.LogError(logger, "api server failed", runErr)
		}
	}
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return runErr
}

// buildHandler wires the services behind the API router.
func buildHandler(cfg *config.Config, accounts auth.AccountRepository, gen captcha.Generator, metrics *observability.Metrics, logger *slog.Logger) (http.Handler, error) {
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret,
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithTokenIssuer(cfg.Auth.TokenIssuer),
	)

	var failures auth.FailureTracker = auth.NoopFailureTracker{}
	if policy := cfg.LockoutPolicy(); policy.Threshold > 0 {
		failures = auth.NewMemoryFailureTracker(policy)
	}

	authSvc, err := auth.NewAuthServiceWithLogger(accounts, hasher, tokens, failures, logger)
	if err != nil {
		return nil, err
	}
	accountSvc, err := auth.NewAccountServiceWithLogger(accounts, hasher, logger)
	if err != nil {
		return nil, err
	}

	if gen == nil {
		gen = captcha.NewImageGenerator(captcha.ImageOptions{Length: cfg.Captcha.Length})
	}
	captchaSvc, err := captcha.NewService(captcha.NewMemoryStore(), gen,
		captcha.WithTTL(cfg.Captcha.TTL),
		captcha.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return api.NewRouter(api.Deps{
		Auth:           authSvc,
		Accounts:       accountSvc,
		Tokens:         tokens,
		Captcha:        captchaSvc,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		CaptchaRate:    rate.Limit(cfg.Captcha.RateLimit),
		CaptchaBurst:   cfg.Captcha.RateBurst,
	})
}

// openAccounts opens the credential store for the configured dialect. The
// returned func closes it.
func openAccounts(ctx context.Context, cfg *config.Config, dialect store.Dialect, logger *slog.Logger) (auth.AccountRepository, func(), error) {
	switch dialect {
	case store.DialectPostgres:
		pool, err := store.OpenPostgres(ctx, cfg.Database.URL, cfg.RetryConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to database", "dialect", string(dialect))
		return authpg.NewAccountRepository(pool), pool.Close, nil
	case store.DialectSQLite:
		db, err := store.OpenSQLite(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened database", "dialect", string(dialect))
		return authsqlite.NewAccountRepository(db), func() {
			if err := db.Close(); err != nil {
				logger.Warn("error closing database", "error", err)
			}
		}, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("dialect", string(dialect)).Errorf("unsupported database")
	}
}

// ensureSQLiteDir creates the directory holding the SQLite file.
func ensureSQLiteDir(databaseURL string) error {
	path, _ := strings.CutPrefix(databaseURL, "sqlite3://")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return xdg.EnsureDir(dir)
}

// autoMigrate applies pending migrations before the store is opened.
func autoMigrate(databaseURL string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	logger.Info("running database migrations")
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	logger.Info("database migrations complete")
	return nil
}

func stopObservability(server ObservabilityServer, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel is closed or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
