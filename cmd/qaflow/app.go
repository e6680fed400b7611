package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/qaflow/batch"
	"github.com/BaSui01/qaflow/config"
	"github.com/BaSui01/qaflow/internal/cache"
	"github.com/BaSui01/qaflow/internal/database"
	"github.com/BaSui01/qaflow/internal/metrics"
	"github.com/BaSui01/qaflow/internal/store"
	"github.com/BaSui01/qaflow/llm"
	"github.com/BaSui01/qaflow/llm/tokenizer"
	"github.com/BaSui01/qaflow/pipeline"
	"github.com/BaSui01/qaflow/scoring"
	"github.com/BaSui01/qaflow/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 持有一次进程运行所需的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	cache     *cache.EvictingCache
	store     store.Store
	dbPool    *database.PoolManager
	pool      *llm.KeyPool
	client    *llm.ResilientClient
	pipeline  *pipeline.Pipeline
	started   time.Time
}

// buildApp 按配置装配组件。存储不可达或没有可用凭证时在任何解析之前失败。
func buildApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector("qaflow", reg, logger),
		started:   time.Now(),
	}

	var err error
	if a.store, err = a.openStore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.cache, err = a.openCache(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if a.pool, a.client, err = a.openClient(); err != nil {
		a.close()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	a.pipeline, err = pipeline.New(a.cache, a.store, a.client, pipeline.Config{
		CacheTTL:       cfg.Cache.DefaultTTL,
		CacheLabel:     string(a.cache.Policy()),
		Model:          cfg.LLM.Model,
		ResolveTimeout: cfg.LLM.ResolveTimeout,
	}, logger,
		pipeline.WithScorer(a.newScorer()),
		pipeline.WithMetrics(a.collector),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// openStore 按 store.backend 打开记录存储并包装指标
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.cfg
	backend := store.Backend(strings.ToLower(cfg.Store.Backend))

	var (
		s   store.Store
		err error
	)
	switch backend {
	case store.BackendSQL, "":
		backend = store.BackendSQL
		s, err = a.openSQLStore(ctx)
	case store.BackendDynamoDB:
		dcfg := store.DefaultDynamoConfig()
		if cfg.Store.DynamoTable != "" {
			dcfg.Table = cfg.Store.DynamoTable
		}
		if cfg.Store.DynamoRegion != "" {
			dcfg.Region = cfg.Store.DynamoRegion
		}
		dcfg.Endpoint = cfg.Store.DynamoEndpoint
		s, err = store.ConnectDynamo(ctx, dcfg, a.logger)
	case store.BackendMongoDB:
		mcfg := store.DefaultMongoConfig()
		if cfg.Store.MongoURI != "" {
			mcfg.URI = cfg.Store.MongoURI
		}
		if cfg.Store.MongoDatabase != "" {
			mcfg.Database = cfg.Store.MongoDatabase
		}
		if cfg.Store.MongoCollection != "" {
			mcfg.Collection = cfg.Store.MongoCollection
		}
		s, err = store.ConnectMongo(ctx, mcfg, a.logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (supported: sql, dynamodb, mongodb)", cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return store.Instrument(s, backend, a.collector), nil
}

func (a *app) openSQLStore(ctx context.Context) (store.Store, error) {
	db := a.cfg.Database
	dialector, err := database.Dialector(db.Driver, db.DSN())
	if err != nil {
		return nil, err
	}
	poolCfg := database.DefaultPoolConfig()
	if db.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = db.MaxOpenConns
	}
	if db.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = min(db.MaxIdleConns, poolCfg.MaxOpenConns)
	}
	if db.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = db.ConnMaxLifetime
	}
	if db.AcquireTimeout > 0 {
		poolCfg.AcquireTimeout = db.AcquireTimeout
	}

	pm, err := database.Open(dialector, poolCfg, a.logger)
	if err != nil {
		return nil, types.StoreUnavailable("open", err)
	}
	s, err := store.NewSQLStore(ctx, pm, a.cfg.Store.AutoMigrate, a.logger)
	if err != nil {
		_ = pm.Close()
		return nil, err
	}
	a.dbPool = pm
	return s, nil
}

// openCache 创建淘汰缓存；redis 后端按配置同步已有键
func (a *app) openCache(ctx context.Context) (*cache.EvictingCache, error) {
	cfg := a.cfg
	policy, err := cache.ParsePolicy(cfg.Cache.Policy)
	if err != nil {
		return nil, err
	}

	var backend cache.Backend
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis", "":
		rcfg := cache.DefaultRedisConfig()
		rcfg.Addr = cfg.Redis.Addr
		rcfg.Password = cfg.Redis.Password
		rcfg.DB = cfg.Redis.DB
		if cfg.Redis.KeyPrefix != "" {
			rcfg.KeyPrefix = cfg.Redis.KeyPrefix
		}
		if cfg.Redis.PoolSize > 0 {
			rcfg.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			rcfg.MinIdleConns = cfg.Redis.MinIdleConns
		}
		if cfg.Redis.CommandTimeout > 0 {
			rcfg.CommandTimeout = cfg.Redis.CommandTimeout
		}
		rcfg.TLS = cfg.Redis.TLS
		if backend, err = cache.NewRedisBackend(rcfg, a.logger); err != nil {
			return nil, err
		}
	case "memory":
		backend = cache.NewMemoryBackend(cfg.Cache.Shards)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q (supported: redis, memory)", cfg.Cache.Backend)
	}

	c, err := cache.New(backend, cache.Config{
		Policy:     policy,
		Capacity:   cfg.Cache.Capacity,
		DefaultTTL: cfg.Cache.DefaultTTL,
		Shards:     cfg.Cache.Shards,
	}, a.logger, cache.WithEvictionHook(a.collector.EvictionHook(string(policy))))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	if cfg.Cache.SyncOnStart {
		n, err := c.Sync(ctx)
		if err != nil {
			// 同步失败不影响启动，缓存从空索引开始
			a.logger.Warn("cache warm start failed", zap.Error(err))
		} else {
			a.logger.Info("cache warm start", zap.Int("keys", n))
		}
	}
	a.collector.SetCacheKeys(c.Len())
	return c, nil
}

// openClient 创建凭证池与弹性客户端
func (a *app) openClient() (*llm.KeyPool, *llm.ResilientClient, error) {
	cfg := a.cfg.LLM
	pool, err := llm.NewKeyPool(cfg.APIKeys, llm.KeyPoolConfig{
		CooldownInitial: cfg.CooldownInitial,
		CooldownMax:     cfg.CooldownMax,
		Multiplier:      cfg.CooldownMultiplier,
	}, a.logger, llm.WithCooldownHook(a.collector.RecordCredentialCooldown))
	if err != nil {
		return nil, nil, err
	}
	a.collector.SetCredentialsAvailable(pool.Available())

	client, err := llm.NewResilientClient(llm.ClientConfig{
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		CallTimeout:       cfg.CallTimeout,
		RetryFactor:       cfg.RetryFactor,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Referer:           cfg.Referer,
		Title:             cfg.Title,
	}, pool, a.logger,
		llm.WithTokenCounter(tokenizer.ForModel(cfg.Model, a.logger)),
		llm.WithMetrics(a.collector),
	)
	if err != nil {
		return nil, nil, err
	}
	return pool, client, nil
}

func (a *app) newScorer() scoring.Scorer {
	if !a.cfg.Scorer.Enabled {
		return scoring.Noop{}
	}
	model := a.cfg.Scorer.Model
	if model == "" {
		model = a.cfg.LLM.Model
	}
	return scoring.NewJudge(a.client, model, a.logger)
}

// newRunner 创建批量运行器；配置了快照路径时写文件，否则写日志
func (a *app) newRunner() (*batch.Runner, error) {
	cfg := a.cfg.Batch
	var sink batch.SnapshotSink = batch.NewLogSink(a.logger)
	if cfg.SnapshotPath != "" {
		sink = batch.NewFileSink(cfg.SnapshotPath)
	}
	return batch.NewRunner(a.pipeline, batch.Config{
		Concurrency:   cfg.Concurrency,
		BatchSize:     cfg.BatchSize,
		SnapshotEvery: cfg.SnapshotEvery,
		KeyTimeout:    cfg.KeyTimeout,
	}, a.logger,
		batch.WithSnapshotSink(sink),
		batch.WithCacheStats(a.cache),
		batch.WithMetrics(a.collector),
	)
}

// refreshGauges 刷新按需计算的指标
func (a *app) refreshGauges() {
	if a.cache != nil {
		a.collector.SetCacheKeys(a.cache.Len())
	}
	if a.pool != nil {
		a.collector.SetCredentialsAvailable(a.pool.Available())
	}
	if a.dbPool != nil {
		st := a.dbPool.Stats()
		a.collector.RecordDBConnections(a.cfg.Database.Driver, st.OpenConnections, st.Idle)
	}
}

func (a *app) close() {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error while closing components", zap.Error(err))
	}
}
