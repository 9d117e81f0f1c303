// Package app wires the services shared by the API server and the worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docissue/internal/audit"
	"github.com/nikhilbhutani/docissue/internal/cache"
	"github.com/nikhilbhutani/docissue/internal/catalog"
	"github.com/nikhilbhutani/docissue/internal/config"
	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/document"
	"github.com/nikhilbhutani/docissue/internal/generation"
	"github.com/nikhilbhutani/docissue/internal/lock"
	"github.com/nikhilbhutani/docissue/internal/qr"
	"github.com/nikhilbhutani/docissue/internal/queue"
	"github.com/nikhilbhutani/docissue/internal/render"
	"github.com/nikhilbhutani/docissue/internal/storage"
	"github.com/nikhilbhutani/docissue/internal/tenant"
	"github.com/nikhilbhutani/docissue/internal/verify"
	"github.com/nikhilbhutani/docissue/internal/webhook"
)

const verifyCachePrefix = "verify:"

type App struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
	Queue *queue.Client

	Objects    *storage.Objects
	Catalog    *catalog.Store
	Tenants    *tenant.Service
	Documents  *document.Service
	Verifier   *verify.Service
	Webhooks   *webhook.Service
	Audit      *audit.Service
	Generation *generation.Service
	Batches    *generation.Batches
}

// New connects to Postgres and Redis, applies migrations and builds the
// service graph. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, cfg.Database.MigrationsPath); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		pool.Close()
		rdb.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		Pool:    pool,
		Redis:   rdb,
		Queue:   queue.NewClient(cfg.Redis, cfg.Generation.BulkTimeout),
		Objects: storage.NewObjects(store, cfg.Storage.Bucket),
		Catalog: catalog.NewStore(pool),
		Tenants: tenant.NewService(pool),
		Audit:   audit.NewService(pool),
	}

	issuer := qr.NewIssuer(cfg.Verify.BaseURL)
	a.Documents = document.NewService(pool, issuer.NewToken)

	var verifyCache *cache.Cache
	if cfg.Verify.CacheEnabled {
		verifyCache = cache.NewCache(rdb, verifyCachePrefix)
	} else {
		slog.Info("verification cache disabled")
	}
	a.Verifier = verify.NewService(a.Documents, verifyCache, cfg.Verify.CacheTTL)

	// Deliveries go through the task queue so failed posts are retried.
	a.Webhooks = webhook.NewService(pool, a.Queue)

	renderer := render.New(render.Options{
		Timeout:       cfg.Render.Timeout,
		MaxConcurrent: cfg.Render.MaxConcurrent,
		Page:          render.PageSize{WidthIn: cfg.Render.PageWidthIn, HeightIn: cfg.Render.PageHeightIn},
		QR:            render.Placement{Size: cfg.QR.DefaultSize, Offset: cfg.QR.DefaultOffset},
	}, a.Objects, render.NewChromeEngine(cfg.Render.ChromePath))

	a.Generation = generation.NewService(generation.Deps{
		Templates:   a.Catalog,
		Students:    a.Catalog,
		Tenants:     a.Tenants,
		Documents:   a.Documents,
		Renderer:    renderer,
		Objects:     a.Objects,
		Codes:       issuer,
		Locker:      lock.NewRedisLocker(rdb, cfg.Render.Timeout),
		Invalidator: a.Verifier,
		Notifier:    a.Webhooks,
	}, generation.Options{
		Workers: cfg.Generation.Workers,
		LockTTL: 2 * cfg.Render.Timeout,
	})
	a.Batches = generation.NewBatches(a.Generation, generation.NewBatchRepository(pool), a.Queue, generation.BatchOptions{
		Lease: cfg.Generation.BulkTimeout + 2*cfg.Render.Timeout,
	})

	return a, nil
}

func (a *App) Close() error {
	err := errors.Join(a.Queue.Close(), a.Redis.Close())
	a.Pool.Close()
	return err
}
