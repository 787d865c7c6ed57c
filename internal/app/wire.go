// Package app wires the configured lending backend and its stores for the
// server and the command line tool.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"diaspore/internal/cache"
	"diaspore/internal/chain"
	"diaspore/internal/config"
	"diaspore/internal/idempotency"
	"diaspore/internal/journal"
	"diaspore/internal/lending"
	"diaspore/internal/rates"
	"diaspore/internal/rnode"
)

// Dependencies bundles what the entry points need. Built by Wire and torn
// down by the returned cleanup function.
type Dependencies struct {
	Chain       chain.Backend
	API         lending.API
	Journal     journal.Store
	Idempotency idempotency.Store
	Registry    *prometheus.Registry
}

// Wire dials the node and builds every dependency from cfg.
func Wire(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Dependencies, func(), error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout.Duration)
	defer cancel()
	client, err := chain.Dial(dialCtx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps, cleanup, err := WireBackend(ctx, cfg, log, client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return deps, func() {
		cleanup()
		client.Close()
	}, nil
}

// WireBackend builds every dependency over an existing node connection.
func WireBackend(ctx context.Context, cfg *config.Config, log *zap.Logger, backend chain.Backend) (*Dependencies, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Chain:    backend,
		Registry: prometheus.NewRegistry(),
	}

	// --- PostgreSQL ---
	var pgJournal *journal.PostgresStore
	if cfg.Postgres.DSN != "" {
		store, err := journal.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres journal: %w", err)
		}
		closers = append(closers, store.Close)
		pgJournal = store
		deps.Journal = store
	} else {
		deps.Journal = journal.NewMemoryStore()
	}

	// --- Redis ---
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		rdb = client
	}

	// --- Idempotency ---
	switch cfg.Server.IdempotencyStore {
	case "file":
		store, err := idempotency.NewFileStore(cfg.Server.IdempotencyPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: idempotency file store: %w", err)
		}
		deps.Idempotency = store
	case "postgres":
		if pgJournal == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: idempotency store postgres needs postgres.dsn")
		}
		store, err := idempotency.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres idempotency: %w", err)
		}
		closers = append(closers, store.Close)
		deps.Idempotency = store
	case "redis":
		if rdb == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: idempotency store redis needs redis.addr")
		}
		deps.Idempotency = idempotency.NewRedisStore(rdb)
	default:
		deps.Idempotency = idempotency.NewMemoryStore()
	}
	if purger, ok := deps.Idempotency.(idempotency.Purger); ok {
		purgeCtx, stop := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			idempotency.RunPurger(purgeCtx, purger,
				idempotency.PurgeInterval(cfg.Server.IdempotencyWindow.Duration), log.Named("idempotency"))
		}()
		closers = append(closers, func() {
			stop()
			<-done
		})
	}

	// --- Oracle data and debt info ---
	var rateCache rates.Cache = rates.NewMemoryCache()
	if cfg.Rates.Cache == "redis" && rdb != nil {
		rateCache = rates.NewRedisCache(rdb)
	}
	rateClient := rates.NewClient(rates.Config{
		URL:     cfg.Rates.URL,
		TTL:     cfg.Rates.TTL.Duration,
		Timeout: cfg.Rates.Timeout.Duration,
	}, rateCache, log.Named("rates"))
	obligations := rnode.NewClient(cfg.RNode.URL, cfg.RNode.Timeout.Duration, log.Named("rnode"))

	// --- Lending backend ---
	api, err := lending.New(ctx, cfg.LendingConfig(), lending.Deps{
		Chain:         backend,
		Rates:         rateClient,
		Obligations:   obligations,
		Journal:       deps.Journal,
		Metrics:       lending.NewMetrics(deps.Registry),
		Logger:        log.Named("lending"),
		Currency:      cfg.Lending.Currency,
		SettleTimeout: cfg.Lending.SettleTimeout.Duration,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: lending: %w", err)
	}
	closers = append(closers, func() { _ = api.Close() })
	deps.API = api

	log.Info("dependencies wired",
		zap.String("backend", string(api.Kind())),
		zap.Bool("postgres", pgJournal != nil),
		zap.Bool("redis", rdb != nil),
		zap.String("idempotency", cfg.Server.IdempotencyStore),
	)
	return deps, cleanup, nil
}
