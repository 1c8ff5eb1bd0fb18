package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

const shutdownTimeout = 10 * time.Second

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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authzd", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	policy, err := cfg.PolicyConfig()
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rbacMetrics := rbac.NewMetrics(metrics.Registerer())

	repo := rbac.NewRepository(pool)
	remote := rbac.NewRedisCache(redisClient, cfg.CacheTTL, cfg.CachePrefix)
	var decisions rbac.DecisionCache = remote
	var tiered *rbac.TieredCache
	if cfg.LocalCacheSize > 0 {
		tiered = rbac.NewTieredCache(rbac.NewMemoryCache(cfg.LocalCacheSize, cfg.LocalCacheTTL), remote, logger)
		decisions = tiered
	}

	resolver := rbac.NewResolver(repo, decisions, policy, logger, rbacMetrics)
	authorizer := rbac.NewAuthorizer(rbac.AuthorizerConfig{
		Engine:  rbac.NewEngine(resolver, repo, policy),
		Cache:   decisions,
		Audit:   auditSink(cfg, pool, logger),
		Logger:  logger,
		Metrics: rbacMetrics,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	service := rbac.NewService(repo, authorizer, logger).WithRetryQueue(jobClient)
	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Identity:    repo,
		Authorizer:  authorizer,
		RBACHandler: rbac.NewHandler(logger, authorizer, service),
		JobHandler:  jobs.NewHandler(inspector, logger),
		Metrics:     metrics,
		Ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if tiered != nil {
		g.Go(func() error {
			return tiered.Listen(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func auditSink(cfg *app.Config, pool *pgxpool.Pool, logger *slog.Logger) rbac.AuditSink {
	sink := rbac.MultiAuditSink{rbac.LogAuditSink{Logger: logger}}
	if cfg.AuditDB {
		sink = append(sink, rbac.NewPostgresAuditSink(pool, logger))
	}
	return sink
}
