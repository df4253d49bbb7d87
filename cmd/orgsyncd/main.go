package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgsyncd/orgsyncd/internal/api"
	"github.com/orgsyncd/orgsyncd/internal/api/handler"
	"github.com/orgsyncd/orgsyncd/internal/config"
	"github.com/orgsyncd/orgsyncd/internal/github"
	"github.com/orgsyncd/orgsyncd/internal/model"
	"github.com/orgsyncd/orgsyncd/internal/reconciler"
	"github.com/orgsyncd/orgsyncd/internal/runlog"
	"github.com/orgsyncd/orgsyncd/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, err := github.TokensFromEnv()
	if err != nil {
		slog.Error("failed to resolve GitHub credentials", "error", err)
		os.Exit(1)
	}

	// The desired state is re-loaded every run; loading it here catches
	// configuration errors before the first network call.
	state, err := model.LoadDir(cfg.ConfigDir)
	if err != nil {
		slog.Error("invalid desired state configuration", "error", err)
		os.Exit(1)
	}
	orgs := state.Orgs()
	if len(orgs) == 0 {
		slog.Error("desired state references no organizations", "config_dir", cfg.ConfigDir)
		os.Exit(1)
	}

	var clientOpts []github.ClientOption
	if cfg.GitHubAPIBase != "" {
		clientOpts = append(clientOpts, github.WithBaseURL(cfg.GitHubAPIBase))
	}
	client := github.NewHTTPClient(tokens, clientOpts...)
	read := github.NewAPIRead(client, orgs[0])

	var write github.Write
	if !cfg.PlanOnly {
		write = github.NewAPIWrite(client, cfg.DryRun)
	}
	runner := sync.NewRunner(read, write, cfg.ConfigDir)

	var runs runlog.Repository
	var pinger handler.DBPinger
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		repo := runlog.NewRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare run history schema", "error", err)
			os.Exit(1)
		}
		runs = repo
		pinger = pool
	} else {
		runs = runlog.NewMemoryRepository()
	}

	rec := reconciler.New(runner, runs, time.Duration(cfg.SyncInterval)*time.Second, cfg.DryRun)
	go rec.Start(ctx)

	router := api.NewRouter(api.RouterDeps{
		Version:      cfg.Version,
		DBPinger:     pinger,
		Reconciler:   rec,
		Runs:         runs,
		AdminKeyHash: cfg.AdminKeyHash,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting orgsyncd", "port", cfg.Port, "version", cfg.Version,
			"dry_run", cfg.DryRun, "plan_only", cfg.PlanOnly)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
