package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

func main() {
	companies := flag.String("companies", "", "comma separated company ids; defaults to every company with users")
	flag.Parse()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping seed")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if err := run(context.Background(), cfg, logger, *companies); err != nil {
		logger.Error("seed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, companies string) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := rbac.NewRepository(pool)
	svc := rbac.NewService(repo, nil, logger)

	created, err := svc.SeedCatalog(ctx)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info("permission catalog seeded", slog.Int("created", created))

	ids, err := parseCompanies(companies)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		if ids, err = repo.CompanyIDs(ctx); err != nil {
			return fmt.Errorf("list companies: %w", err)
		}
	}
	for _, id := range ids {
		created, err := svc.SeedCompanyRoles(ctx, id)
		if err != nil {
			return fmt.Errorf("seed company %d: %w", id, err)
		}
		logger.Info("default roles seeded", slog.Int64("company_id", id), slog.Int("created", created))
	}

	// Seeded grants may widen existing roles, so cached decisions are dropped.
	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("skip decision cache flush", slog.Any("error", err))
		return nil
	}
	defer client.Close()
	if err := rbac.NewRedisCache(client, cfg.CacheTTL, cfg.CachePrefix).InvalidateAll(ctx); err != nil {
		logger.Warn("decision cache flush, queueing retry", slog.Any("error", err))
		queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer queue.Close()
		if qerr := queue.EnqueueCacheFlush(ctx); qerr != nil {
			logger.Error("enqueue decision cache flush", slog.Any("error", qerr))
		}
	}
	logger.Info("seed complete", slog.String("at", time.Now().UTC().Format(time.RFC3339)))
	return nil
}

func parseCompanies(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid company id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
