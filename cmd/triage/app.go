package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/triage/internal/application/orchestrator"
	"github.com/aescanero/triage/internal/application/policy"
	"github.com/aescanero/triage/internal/application/stages"
	"github.com/aescanero/triage/internal/application/workers"
	"github.com/aescanero/triage/internal/config"
	eventsmemory "github.com/aescanero/triage/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/triage/pkg/adapters/events/redis"
	"github.com/aescanero/triage/pkg/adapters/llm"
	"github.com/aescanero/triage/pkg/adapters/memorystore"
	promcollector "github.com/aescanero/triage/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/triage/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/triage/pkg/adapters/storage/redis"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the process-wide services. They are built once and injected.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *prometheus.Registry
	metrics  *promcollector.Collector
	memory   *memorystore.Store
	bus      *eventsmemory.RingEventBus
	redis    *goredis.Client
	pool     *workers.Pool
	manager  *orchestrator.Manager

	stopMirror context.CancelFunc
}

func openMemory(cfg *config.Config, logger *zap.Logger) (*memorystore.Store, error) {
	store, err := memorystore.New(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return store, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = promcollector.NewCollector(a.registry)

	if a.memory, err = openMemory(cfg, logger); err != nil {
		return nil, err
	}

	a.bus = eventsmemory.NewRingEventBus(cfg.Events.HistoryCapacity, logger,
		eventsmemory.WithMetrics(a.metrics))

	runs, err := a.initRedis(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := newPolicy(cfg)
	if err != nil {
		return nil, err
	}

	reasoner, err := llm.NewReasoner(&llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.RequestTimeout,
		Logger:   logger,
	})
	if err != nil {
		return nil, &domain.ConfigurationError{Reason: "reasoning engine", Err: err}
	}

	graph, err := stages.Pipeline(stages.Deps{
		Memory:           a.memory,
		Reasoner:         reasoner,
		Policy:           engine,
		Metrics:          a.metrics,
		Logger:           logger,
		ReasoningTimeout: cfg.LLM.RequestTimeout,
		MaxTokens:        cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	depPolicy, err := orchestrator.ParseDependencyPolicy(cfg.Pipeline.DependencyPolicy)
	if err != nil {
		return nil, &domain.ConfigurationError{Reason: "dependency policy", Err: err}
	}

	a.pool = workers.NewPool(cfg.Workers.PoolSize, a.metrics, logger, cfg.Workers.HealthCheckInterval)
	if err := a.pool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	executor := orchestrator.NewExecutor(a.pool, a.bus, logger,
		orchestrator.WithStageTimeout(cfg.Timeouts.Stage),
		orchestrator.WithDependencyPolicy(depPolicy),
		orchestrator.WithExecutorMetrics(a.metrics))

	a.manager = orchestrator.NewManager(executor, graph, a.bus, logger,
		orchestrator.WithRunStore(runs),
		orchestrator.WithManagerMetrics(a.metrics),
		orchestrator.WithRunTimeout(cfg.Timeouts.Run),
		orchestrator.WithCompletionHook(stages.WriteBack(a.memory, cfg.Memory.WorkingTTL, logger)))

	logger.Info("pipeline ready",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("dependency_policy", string(depPolicy)),
		zap.Float64("confidence_threshold", engine.Threshold()),
		zap.Strings("policy_categories", engine.Categories()),
		zap.Bool("redis", cfg.Redis.Enabled))

	return a, nil
}

// initRedis connects to Redis when enabled and returns the run archive to use.
func (a *app) initRedis(ctx context.Context) (ports.RunStore, error) {
	cfg := a.cfg
	if !cfg.Redis.Enabled {
		return storagememory.NewInMemoryRunStore(cfg.RunRetention), nil
	}

	a.redis = newRedisClient(cfg)

	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	mirrorCtx, cancel := context.WithCancel(context.Background())
	a.stopMirror = cancel
	mirror := eventsredis.NewStreamsMirror(a.redis, cfg.Events.StreamKey, cfg.Events.StreamMaxLen, a.logger)
	if err := mirror.Attach(mirrorCtx, a.bus); err != nil {
		return nil, err
	}

	return redisstorage.NewRunStore(a.redis, cfg.RunRetention, a.logger), nil
}

func newRedisClient(cfg *config.Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
}

func newPolicy(cfg *config.Config) (*policy.Engine, error) {
	if cfg.Policy.RulesFile != "" {
		engine, err := policy.FromFile(cfg.Policy.RulesFile, cfg.Policy.ConfidenceThreshold)
		if err != nil {
			return nil, &domain.ConfigurationError{Reason: "policy rules", Err: err}
		}
		return engine, nil
	}
	return policy.NewDefault(cfg.Policy.ConfidenceThreshold)
}

// checks returns the dependency health checks reported by /health and the gRPC health service.
func (a *app) checks() map[string]ports.HealthCheck {
	checks := map[string]ports.HealthCheck{
		"memory": a.memory.Ping,
		"workers": func(ctx context.Context) error {
			if !a.pool.Health().IsHealthy() {
				return errors.New("worker pool has no live workers")
			}
			return nil
		},
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// close releases everything newApp built, in reverse order. It tolerates a
// partially built app.
func (a *app) close(ctx context.Context) {
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Error("orchestrator shutdown error", zap.Error(err))
		}
	}
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			a.logger.Error("worker pool shutdown error", zap.Error(err))
		}
	}
	if a.stopMirror != nil {
		a.stopMirror()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			a.logger.Error("memory store close error", zap.Error(err))
		}
	}
}
