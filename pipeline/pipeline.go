package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/BaSui01/qaflow/internal/cache"
	"github.com/BaSui01/qaflow/internal/ctxkeys"
	"github.com/BaSui01/qaflow/internal/store"
	"github.com/BaSui01/qaflow/llm"
	"github.com/BaSui01/qaflow/scoring"
	"github.com/BaSui01/qaflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/BaSui01/qaflow/pipeline"

// Cache 管线所需的缓存操作
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}

// Metrics 管线指标钩子
type Metrics interface {
	RecordCacheHit(policy string)
	RecordCacheMiss(policy string)
	RecordResolution(source, status string, duration time.Duration)
	ResolutionStarted() func()
}

// Result 一次解析的结果
type Result struct {
	Key    string       `json:"key"`
	Value  string       `json:"value"`
	Source types.Source `json:"source"`
}

// Config 管线配置
type Config struct {
	// CacheTTL 写入缓存的 TTL；0 使用缓存默认 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// CacheLabel 指标中的缓存标签，通常为淘汰策略名
	CacheLabel string `yaml:"cache_label" json:"cache_label"`
	// Model 上游模型；为空时使用客户端默认模型
	Model string `yaml:"model" json:"model"`
	// ResolveTimeout 一次共享解析的时限，不随任何单个调用方取消；<=0 使用 DefaultResolveTimeout
	ResolveTimeout time.Duration `yaml:"resolve_timeout" json:"resolve_timeout"`
}

// DefaultResolveTimeout 默认共享解析时限
const DefaultResolveTimeout = 2 * time.Minute

// Counters 管线计数快照
type Counters struct {
	Resolutions   int64 `json:"resolutions"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	CacheErrors   int64 `json:"cache_errors"`
	StoreHits     int64 `json:"store_hits"`
	StoreErrors   int64 `json:"store_errors"`
	ClientCalls   int64 `json:"client_calls"`
	ScoreFailures int64 `json:"score_failures"`
	Failures      int64 `json:"failures"`
	Coalesced     int64 `json:"coalesced"`
}

type counters struct {
	resolutions, cacheHits, cacheMisses, cacheErrors   atomic.Int64
	storeHits, storeErrors, clientCalls, scoreFailures atomic.Int64
	failures, coalesced                                atomic.Int64
}

// Option 管线选项
type Option func(*Pipeline)

// WithScorer 设置评分器；默认 scoring.Noop
func WithScorer(s scoring.Scorer) Option {
	return func(p *Pipeline) { p.scorer = s }
}

// WithMetrics 注入指标记录器
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline 按缓存、存储、上游客户端的顺序解析键
//
// 客户端产出的值先写存储，存储写入成功后才写缓存。
// 同一键的并发解析通过 singleflight 合并为一次。
type Pipeline struct {
	cache   Cache
	store   store.Store
	client  llm.Caller
	scorer  scoring.Scorer
	cfg     Config
	metrics Metrics
	group   singleflight.Group
	stats   counters
	now     func() time.Time
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New 创建解析管线
func New(c Cache, s store.Store, client llm.Caller, cfg Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if c == nil || s == nil || client == nil {
		return nil, errors.New("pipeline requires cache, store and client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheLabel == "" {
		cfg.CacheLabel = "default"
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	p := &Pipeline{
		cache:  c,
		store:  s,
		client: client,
		scorer: scoring.Noop{},
		cfg:    cfg,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
		logger: logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Resolve 解析单个键。
// 并发的同键调用共享一次解析，共享解析只受 ResolveTimeout 约束，
// 不随发起它的调用方取消；各调用方可以通过自身 ctx 提前放弃等待。
func (p *Pipeline) Resolve(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, types.NewError(types.ErrInvalidRequest, "key is empty").WithHTTPStatus(http.StatusBadRequest)
	}

	ch := p.group.DoChan(key, func() (any, error) {
		// 保留请求 ID 与追踪上下文，去掉调用方的取消信号
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ResolveTimeout)
		defer cancel()
		return p.resolve(shared, key)
	})
	select {
	case res := <-ch:
		if res.Shared {
			p.stats.coalesced.Add(1)
		}
		r, _ := res.Val.(Result)
		return r, res.Err
	case <-ctx.Done():
		return Result{}, types.ResolutionFailed(key, ctx.Err())
	}
}

func (p *Pipeline) resolve(ctx context.Context, key string) (res Result, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.resolve", trace.WithAttributes(attribute.String("qaflow.key", key)))
	start := time.Now()
	p.stats.resolutions.Add(1)
	if p.metrics != nil {
		defer p.metrics.ResolutionStarted()()
	}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			p.stats.failures.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("qaflow.source", string(res.Source)))
		}
		if p.metrics != nil {
			p.metrics.RecordResolution(string(res.Source), status, time.Since(start))
		}
		span.End()
	}()

	// 1. 缓存
	if v, ok := p.lookupCache(ctx, key); ok {
		return Result{Key: key, Value: v, Source: types.SourceCache}, nil
	}

	// 2. 存储
	rec := p.lookupStore(ctx, key)
	if rec.Resolved() {
		p.stats.storeHits.Add(1)
		p.writeCache(ctx, key, rec.ComputedValue)
		return Result{Key: key, Value: rec.ComputedValue, Source: types.SourceStore}, nil
	}

	// 3. 上游客户端
	prompt := key
	if rec != nil {
		prompt = rec.Prompt()
	}
	p.stats.clientCalls.Add(1)
	resp, err := p.client.Call(ctx, llm.Request{Model: p.cfg.Model, Prompt: prompt})
	if err != nil {
		p.logger.Warn("resolution failed",
			append(ctxkeys.LogFields(ctx), zap.String("key", key), zap.Error(err))...)
		return Result{}, types.ResolutionFailed(key, err)
	}

	evaluated := p.now().UTC()
	out := &types.Record{
		ID:            key,
		ComputedValue: resp.Content,
		Source:        types.SourceClient,
		EvaluatedAt:   &evaluated,
	}
	if rec != nil && rec.ReferenceValue != "" {
		p.applyScores(ctx, out, rec.ReferenceValue)
	}

	// 存储写入失败时不写缓存，缓存中的键在存储中必定存在
	if err := p.store.Upsert(ctx, out); err != nil {
		p.stats.storeErrors.Add(1)
		p.logger.Warn("store upsert failed, skipping cache write",
			zap.String("key", key), zap.Error(err))
	} else {
		p.writeCache(ctx, key, resp.Content)
	}

	return Result{Key: key, Value: resp.Content, Source: types.SourceClient}, nil
}

// lookupCache 命中返回 true；传输失败按未命中处理并计数
func (p *Pipeline) lookupCache(ctx context.Context, key string) (string, bool) {
	v, err := p.cache.Get(ctx, key)
	switch {
	case err == nil:
		p.stats.cacheHits.Add(1)
		if p.metrics != nil {
			p.metrics.RecordCacheHit(p.cfg.CacheLabel)
		}
		return v, true
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		p.stats.cacheErrors.Add(1)
		p.logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
	}
	p.stats.cacheMisses.Add(1)
	if p.metrics != nil {
		p.metrics.RecordCacheMiss(p.cfg.CacheLabel)
	}
	return "", false
}

// lookupStore 未找到或传输失败时返回 nil，传输失败会被记录
func (p *Pipeline) lookupStore(ctx context.Context, key string) *types.Record {
	rec, err := p.store.Get(ctx, key)
	switch {
	case err == nil:
		return rec
	case errors.Is(err, store.ErrNotFound):
	default:
		p.stats.storeErrors.Add(1)
		p.logger.Warn("store get failed, falling through to client", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (p *Pipeline) writeCache(ctx context.Context, key, value string) {
	if err := p.cache.Put(ctx, key, value, p.cfg.CacheTTL); err != nil {
		p.stats.cacheErrors.Add(1)
		p.logger.Warn("cache put failed", zap.String("key", key), zap.Error(err))
	}
}

// applyScores 只填写分数；评分失败时写入零分，评分关闭时不写分数
func (p *Pipeline) applyScores(ctx context.Context, rec *types.Record, reference string) {
	s, err := p.scorer.Score(ctx, reference, rec.ComputedValue)
	if errors.Is(err, scoring.ErrDisabled) {
		return
	}
	if err != nil {
		p.stats.scoreFailures.Add(1)
		p.logger.Warn("scoring failed, storing zero scores", zap.String("key", rec.ID), zap.Error(err))
		s = scoring.Scores{}
	}
	rec.SimilarityScore = &s.Similarity
	rec.QualityScore = &s.Quality
	rec.CompletenessScore = &s.Completeness
	rec.OverallScore = &s.Overall
}

// Counters 返回计数快照
func (p *Pipeline) Counters() Counters {
	return Counters{
		Resolutions:   p.stats.resolutions.Load(),
		CacheHits:     p.stats.cacheHits.Load(),
		CacheMisses:   p.stats.cacheMisses.Load(),
		CacheErrors:   p.stats.cacheErrors.Load(),
		StoreHits:     p.stats.storeHits.Load(),
		StoreErrors:   p.stats.storeErrors.Load(),
		ClientCalls:   p.stats.clientCalls.Load(),
		ScoreFailures: p.stats.scoreFailures.Load(),
		Failures:      p.stats.failures.Load(),
		Coalesced:     p.stats.coalesced.Load(),
	}
}
