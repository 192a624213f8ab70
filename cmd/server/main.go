// Package main is the sqlgate server entry point: an MCP server exposing a
// SQL Server database to tool callers, with every write-capable operation
// routed through the query-safety gate.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"sqlgate/internal/audit"
	"sqlgate/internal/catalog"
	"sqlgate/internal/config"
	internaldb "sqlgate/internal/db"
	"sqlgate/internal/db/repository"
	"sqlgate/internal/domain"
	"sqlgate/internal/engine"
	"sqlgate/internal/estimate"
	"sqlgate/internal/gate"
	"sqlgate/internal/middleware"
	"sqlgate/internal/tools"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "sqlgate",
		Short:         "Write-gated MCP server for SQL Server",
		Long:          "sqlgate exposes a SQL Server database over the Model Context Protocol.\nWrite operations are risk-classified and require explicit confirmation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "path to an optional .env file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("sqlgate %s (%s)\n", version, commit)
		},
	})
	return rootCmd
}

func serve(ctx context.Context, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	policy, err := config.LoadPolicy(cfg.SecurityPolicyPath)
	if err != nil {
		return fmt.Errorf("security policy: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// SQL Server pool.
	sqlDB, err := sql.Open("sqlserver", cfg.BuildDSN())
	if err != nil {
		return fmt.Errorf("open sqlserver: %w", err)
	}
	defer sqlDB.Close() //nolint:errcheck
	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err = sqlDB.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("ping sqlserver: %w", err)
	}
	logger.Info("connected to SQL Server", "database", cfg.Database)

	// Query-history store, degraded mode on failure: the server still runs,
	// it just stops recording history.
	var history *repository.QueryHistoryRepo
	if historyDB, err := internaldb.Open(cfg.HistoryDBPath); err != nil {
		logger.Warn("query history disabled", "path", cfg.HistoryDBPath, "error", err)
	} else if err := internaldb.RunMigrations(historyDB); err != nil {
		logger.Warn("query history disabled", "path", cfg.HistoryDBPath, "error", err)
		_ = historyDB.Close()
	} else {
		defer historyDB.Close() //nolint:errcheck
		history = repository.NewQueryHistoryRepo(historyDB)
	}

	// The audit log is the security record; refusing to start without it is
	// deliberate.
	auditLog, err := audit.Open(cfg.AuditLogPath, logger.With("component", "audit"))
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer auditLog.Close() //nolint:errcheck

	executor := engine.New(sqlDB, cfg.QueryTimeout, logger.With("component", "engine"))
	g := gate.New(gate.Config{
		Flags: gate.Flags{
			ModificationsAllowed:    cfg.AllowModifications,
			StoredProceduresAllowed: cfg.AllowStoredProcedures,
		},
		Executor:          executor,
		Estimator:         estimate.New(executor, logger.With("component", "estimate")),
		Audit:             auditLog,
		History:           historyOrNil(history),
		Logger:            logger.With("component", "gate"),
		ExtraReadPrefixes: policy.ReadProcedurePrefixes,
	})
	cat := catalog.New(sqlDB, cfg.QueryTimeout, policy.PreviewRowCap, policy.SearchResultCap)

	server := mcp.NewServer(&mcp.Implementation{Name: "sqlgate", Version: version}, nil)
	tools.Register(server, tools.Deps{
		Gate:    g,
		Catalog: cat,
		History: historyListerOrNil(history),
		Logger:  logger.With("component", "tools"),
	})

	status := g.SecurityStatus()
	logger.Info("query-safety gate ready",
		"security_level", status.SecurityLevel,
		"modifications", cfg.AllowModifications,
		"stored_procedures", cfg.AllowStoredProcedures,
		"transport", cfg.Transport)

	if cfg.Transport == "http" {
		return serveHTTP(ctx, cfg, server, logger)
	}
	return server.Run(ctx, &mcp.StdioTransport{})
}

// serveHTTP mounts the streamable HTTP handler behind request-ID,
// rate-limit, and CORS middleware, and shuts down on signal.
func serveHTTP(ctx context.Context, cfg *config.Config, server *mcp.Server, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID(logger))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version", "X-Request-ID"},
		ExposedHeaders: []string{"Mcp-Session-Id", "X-Request-ID"},
	}))
	r.Handle("/mcp", handler)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("http transport listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// newLogger builds the root logger: JSON on stderr, or text when stderr is a
// terminal.
func newLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// historyOrNil avoids handing the gate a typed-nil interface value.
func historyOrNil(repo *repository.QueryHistoryRepo) domain.HistoryRecorder {
	if repo == nil {
		return nil
	}
	return repo
}

func historyListerOrNil(repo *repository.QueryHistoryRepo) tools.HistoryLister {
	if repo == nil {
		return nil
	}
	return repo
}
