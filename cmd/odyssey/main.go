package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	ledgerhttp "github.com/odyssey-erp/odyssey-ledger/internal/accounting/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/analytics"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/assets"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "odyssey-ledger"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command != "serve" {
		os.Exit(runCommand(ctx, cfg, dbpool, command, os.Args[2:]))
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledger := newLedger(cfg, dbpool, logger)
	ledger.SetMetrics(metrics)

	reportCache := newCache(redisClient, cfg.AnalyticsCacheTTL)
	analyticsService := analytics.NewService(ledger, reportCache, logger)
	ledger.SetCacheInvalidator(analyticsService)
	if err := reportCache.ListenForInvalidation(ctx, func(scope string, version int64) {
		logger.Debug("report cache bumped", slog.String("scope", scope), slog.Int64("version", version))
	}); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	assetsService := assets.NewService(assets.NewRepository(dbpool), ledger, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: ledgerhttp.NewHandler(logger, ledger, analyticsService, cfg.PostRateLimit),
		AssetsHandler: assets.NewHandler(logger, assetsService),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func newLedger(cfg *app.Config, pool *pgxpool.Pool, logger *slog.Logger) *accounting.Service {
	ledger := accounting.NewService(accounting.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	if policy, err := cfg.Overpayment(); err == nil {
		ledger.SetOverpaymentPolicy(policy)
	}
	ledger.SetReversalMode(cfg.Reversal())
	return ledger
}

func newCache(client *redis.Client, ttl time.Duration) *analytics.Cache {
	if client == nil {
		return nil
	}
	return analytics.NewCache(client, ttl)
}

// runCommand executes an operator subcommand and returns the process exit code.
func runCommand(ctx context.Context, cfg *app.Config, pool *pgxpool.Pool, command string, args []string) int {
	logger := app.NewLogger(cfg)
	ops, err := cli.NewLedgerOpsCLI(newLedger(cfg, pool, logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	switch command {
	case "ageing":
		fs := flag.NewFlagSet("ageing", flag.ContinueOnError)
		kind := fs.String("kind", "ar", "ar or ap")
		asOf := fs.String("as-of", "", "as-of date (YYYY-MM-DD), defaults to today")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return ops.AgeingCommand(ctx, cli.AgeingOptions{Kind: *kind, AsOf: *asOf, JSONOutput: *asJSON})
	case "integrity":
		return ops.IntegrityCommand(ctx, os.Stdout, os.Stderr)
	case "enqueue":
		fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
		job := fs.String("job", jobs.TaskGLIntegrity, "task type to enqueue")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer func() { _ = jobsCLI.Close() }()
		info, err := jobsCLI.Trigger(ctx, *job, time.Time{})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "enqueued %s as %s\n", info.Type, info.ID)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected serve, ageing, integrity or enqueue)\n", command)
		return 2
	}
}
