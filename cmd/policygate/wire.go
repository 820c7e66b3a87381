package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/carepoint/policygate/internal/audit"
	"github.com/carepoint/policygate/internal/cache"
	"github.com/carepoint/policygate/internal/config"
	"github.com/carepoint/policygate/internal/database"
	"github.com/carepoint/policygate/internal/gateway"
	"github.com/carepoint/policygate/internal/handlers"
	"github.com/carepoint/policygate/internal/identity"
	"github.com/carepoint/policygate/internal/observability"
	"github.com/carepoint/policygate/internal/ruleengine"
	"github.com/carepoint/policygate/internal/store"
)

// application holds everything serve wires together.
type application struct {
	logger   *slog.Logger
	gateway  *gateway.Gateway
	engine   *ruleengine.Engine
	checkers []observability.Checker

	pool        *pgxpool.Pool
	redis       *redis.Client
	memCounters *cache.MemoryCounterStore
	auditBuffer *audit.BufferedSink

	poolMonitorInterval    time.Duration
	counterMetricsInterval time.Duration

	wg sync.WaitGroup
}

// build connects the backends, compiles routes and rules, and registers handlers.
// On error everything opened so far is closed.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{
		logger:                 log,
		poolMonitorInterval:    cfg.Observability.PoolMonitorInterval,
		counterMetricsInterval: cfg.Observability.CounterMetricsInterval,
	}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	if cfg.Database.IsConfigured() {
		if app.pool, err = database.NewPostgresPool(ctx, &cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		app.checkers = append(app.checkers, database.NewHealthChecker(app.pool))
	} else {
		log.Warn("database not configured; auth and patients handlers are unavailable")
	}

	var pg *store.PostgresStore
	if app.pool != nil {
		pg = store.NewPostgresStore(app.pool)
	}

	counters, err := app.counterStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sink, err := app.auditSink(cfg)
	if err != nil {
		return nil, err
	}

	var roles identity.RoleStore
	if pg != nil {
		roles = pg
	}
	resolver := identity.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, roles)

	app.engine = ruleengine.New(log)
	rules, err := ruleengine.LoadFile(cfg.Gateway.RulesFile, ruleengine.Deps{
		Resolver:  resolver,
		Counters:  counters,
		AuditSink: sink,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	for _, r := range rules {
		app.engine.Register(r)
	}

	routes, err := gateway.LoadRoutes(cfg.Gateway.RoutesFile, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	app.gateway = gateway.New(log, routes, gateway.Options{
		Engine:     app.engine,
		Production: cfg.App.IsProduction(),
	})
	if pg != nil {
		app.gateway.RegisterHandler("auth", handlers.NewAuthHandler(pg, resolver, cfg.Auth.TokenTTL))
		app.gateway.RegisterHandler("patients", handlers.NewPatientsHandler(pg))
	} else {
		app.gateway.RegisterHandler("auth", nil)
		app.gateway.RegisterHandler("patients", nil)
	}

	app.checkers = append(app.checkers, rulesChecker(app.engine, cfg.Observability.MinReadyRules))

	log.Info("gateway ready",
		slog.Int("routes", routes.Len()),
		slog.Int("rules", len(rules)),
		slog.Any("handlers", app.gateway.HandlerNames()),
	)
	return app, nil
}

// rulesChecker reports not ready while fewer than minRules rules are enabled.
func rulesChecker(engine *ruleengine.Engine, minRules int) observability.Checker {
	return observability.CheckerFunc{
		Component: "rules",
		Fn: func(context.Context) error {
			enabled := 0
			for _, r := range engine.Rules() {
				if r.Enabled {
					enabled++
				}
			}
			if enabled < minRules {
				return fmt.Errorf("%d enabled rules, need at least %d", enabled, minRules)
			}
			return nil
		},
	}
}

func (a *application) counterStore(ctx context.Context, cfg *config.Config) (ruleengine.CounterStore, error) {
	if cfg.Gateway.RateLimitBackend == config.RateLimitBackendRedis {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.checkers = append(a.checkers, cache.NewHealthChecker(client))
		return cache.NewRedisCounterStore(client, cache.RedisCounterOptions{
			KeyPrefix: cfg.Redis.KeyPrefix,
			Timeout:   cfg.Redis.CounterTimeout,
		}), nil
	}

	mem, err := cache.NewMemoryCounterStore(cfg.Gateway.CounterCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter store: %w", err)
	}
	a.memCounters = mem
	return mem, nil
}

func (a *application) auditSink(cfg *config.Config) (audit.Sink, error) {
	var sinks audit.MultiSink
	for _, name := range cfg.Gateway.AuditSinks {
		switch name {
		case config.AuditSinkConsole:
			sinks = append(sinks, audit.NewLogSink(a.logger))
		case config.AuditSinkStore:
			if a.pool == nil {
				return nil, fmt.Errorf("audit sink %q requires a database", name)
			}
			a.auditBuffer = audit.NewBufferedSink(a.logger, audit.BufferedConfig{
				Capacity:      cfg.Gateway.AuditBufferSize,
				BatchSize:     cfg.Gateway.AuditBatchSize,
				FlushInterval: cfg.Gateway.AuditFlushInterval,
			}, store.NewAuditStore(a.pool, cfg.Gateway.AuditTable))
			sinks = append(sinks, a.auditBuffer)
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// startBackground launches the flush and monitoring loops; they stop when ctx is cancelled.
func (a *application) startBackground(ctx context.Context) {
	if a.auditBuffer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.auditBuffer.Run(ctx); err != nil {
				a.logger.Error("audit flusher failed", slog.String("error", err.Error()))
			}
		}()
	}
	if a.pool != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			database.RunPoolMonitor(ctx, a.pool, a.poolMonitorInterval)
		}()
	}
	if a.memCounters != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.memCounters.RunMetricsCollector(ctx, a.counterMetricsInterval)
		}()
	}
}

// wait blocks until the background loops exit or ctx expires.
func (a *application) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("background workers did not stop before the shutdown deadline")
	}
}

func (a *application) close() {
	if a.memCounters != nil {
		a.memCounters.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
