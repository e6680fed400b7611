package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/qaflow/internal/cache"
	"github.com/BaSui01/qaflow/internal/ctxkeys"
	"github.com/BaSui01/qaflow/pipeline"
	"github.com/BaSui01/qaflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoResolver 未提供解析器
var ErrNoResolver = errors.New("batch runner requires a resolver")

// Resolver 单键解析，通常是 *pipeline.Pipeline
type Resolver interface {
	Resolve(ctx context.Context, key string) (pipeline.Result, error)
}

// PendingSource 列出尚未解析的记录
type PendingSource interface {
	Pending(ctx context.Context, limit int) ([]*types.Record, error)
}

// CacheStats 提供快照中的缓存字段
type CacheStats interface {
	Stats(ctx context.Context) cache.Stats
}

// Metrics 批量运行指标钩子
type Metrics interface {
	RecordBatchKey(status string)
	RecordBatchRun(status string)
}

// Config 批量运行配置
type Config struct {
	// Concurrency 默认并发度，Run 传入 <=0 时使用
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// BatchSize RunPending 每次拉取的记录数
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// SnapshotEvery 每完成多少次解析写一次快照；<=0 只在结束时写
	SnapshotEvery int `yaml:"snapshot_every" json:"snapshot_every"`
	// KeyTimeout 单键解析时限，<=0 不额外限制
	KeyTimeout time.Duration `yaml:"key_timeout" json:"key_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		BatchSize:     200,
		SnapshotEvery: 40,
	}
}

// Outcome 单个键的结果
type Outcome struct {
	Key      string        `json:"key"`
	Value    string        `json:"value,omitempty"`
	Source   types.Source  `json:"source,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	err error
}

// Err 返回解析错误
func (o Outcome) Err() error { return o.err }

// Report 一次批量运行的汇总
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Errors     int64     `json:"errors"`
	Resolved   int64     `json:"resolved"`
	Skipped    int       `json:"skipped"`
	Cancelled  bool      `json:"cancelled"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Option 运行器选项
type Option func(*Runner)

// WithSnapshotSink 设置快照目标
func WithSnapshotSink(s SnapshotSink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithCacheStats 设置快照的缓存统计来源
func WithCacheStats(c CacheStats) Option {
	return func(r *Runner) { r.cache = c }
}

// WithMetrics 注入指标
func WithMetrics(m Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner 以有界并发批量解析键
type Runner struct {
	resolver Resolver
	cfg      Config
	sink     SnapshotSink
	cache    CacheStats
	metrics  Metrics
	now      func() time.Time
	logger   *zap.Logger
}

// NewRunner 创建批量运行器
func NewRunner(resolver Resolver, cfg Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if resolver == nil {
		return nil, ErrNoResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	r := &Runner{
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "batch_runner")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// run 一次运行的可变状态，RunPending 的多批共享同一个 run
type run struct {
	mu       sync.Mutex
	report   *Report
	done     int
	snapMu   sync.Mutex
	lastSnap Snapshot
}

func (r *Runner) start() *run {
	return &run{report: &Report{
		RunID:     uuid.NewString(),
		StartedAt: r.now().UTC(),
	}}
}

// Run 解析 keys，并发度 <=0 时使用配置值。
// 单个键失败不会中止运行；ctx 取消后停止派发，已派发的解析继续完成，
// 返回的报告带 Cancelled 标记，错误为 ctx.Err()。
func (r *Runner) Run(ctx context.Context, keys []string, concurrency int) (*Report, error) {
	st := r.start()
	ctx = ctxkeys.WithRunID(ctx, st.report.RunID)
	r.logger.Info("batch run started",
		zap.String("run_id", st.report.RunID),
		zap.Int("keys", len(keys)))

	r.dispatch(ctx, st, keys, concurrency)
	return r.finish(ctx, st)
}

// RunPending 循环从 src 拉取未解析记录并解析，直到没有新的待处理记录。
// 本次运行中失败的记录仍处于待处理状态，后续拉取会跳过它们。
func (r *Runner) RunPending(ctx context.Context, src PendingSource, concurrency int) (*Report, error) {
	st := r.start()
	ctx = ctxkeys.WithRunID(ctx, st.report.RunID)
	r.logger.Info("pending run started",
		zap.String("run_id", st.report.RunID),
		zap.Int("batch_size", r.cfg.BatchSize))

	attempted := make(map[string]struct{})
	failed := 0
	for ctx.Err() == nil {
		recs, err := src.Pending(ctx, r.cfg.BatchSize+failed)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			report, _ := r.finish(ctx, st)
			return report, fmt.Errorf("list pending records: %w", err)
		}

		keys := make([]string, 0, len(recs))
		for _, rec := range recs {
			if _, seen := attempted[rec.ID]; seen {
				continue
			}
			attempted[rec.ID] = struct{}{}
			keys = append(keys, rec.ID)
		}
		if len(keys) == 0 {
			break
		}

		before := st.errors()
		r.dispatch(ctx, st, keys, concurrency)
		failed += int(st.errors() - before)
	}
	return r.finish(ctx, st)
}

func (st *run) errors() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.report.Errors
}

// dispatch 有界并发派发一组键。errgroup 只用作并发上限，任务从不返回错误。
func (r *Runner) dispatch(ctx context.Context, st *run, keys []string, concurrency int) {
	if concurrency <= 0 {
		concurrency = r.cfg.Concurrency
	}

	var (
		g       errgroup.Group
		skipped atomic.Int64
	)
	g.SetLimit(concurrency)

	for _, key := range keys {
		if ctx.Err() != nil {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			// 等待并发槽期间可能已取消
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			r.resolveOne(ctx, st, key)
			return nil
		})
	}
	_ = g.Wait()

	st.mu.Lock()
	st.report.Total += len(keys)
	st.report.Skipped += int(skipped.Load())
	st.mu.Unlock()
}

// resolveOne 已派发的键不随运行取消而中止，只受 KeyTimeout 约束
func (r *Runner) resolveOne(ctx context.Context, st *run, key string) {
	kctx := context.WithoutCancel(ctx)
	if r.cfg.KeyTimeout > 0 {
		var cancel context.CancelFunc
		kctx, cancel = context.WithTimeout(kctx, r.cfg.KeyTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := r.resolver.Resolve(kctx, key)
	out := Outcome{Key: key, Duration: time.Since(start), err: err}

	status := "error"
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn("key failed", zap.String("key", key), zap.Error(err))
	} else {
		out.Value = res.Value
		out.Source = res.Source
		status = "miss"
		if res.Source == types.SourceCache {
			status = "hit"
		}
	}
	if r.metrics != nil {
		r.metrics.RecordBatchKey(status)
	}

	st.mu.Lock()
	st.report.Outcomes = append(st.report.Outcomes, out)
	switch status {
	case "hit":
		st.report.Hits++
		st.report.Resolved++
	case "miss":
		st.report.Misses++
		st.report.Resolved++
	default:
		st.report.Errors++
	}
	st.done++
	due := r.cfg.SnapshotEvery > 0 && st.done%r.cfg.SnapshotEvery == 0
	var snap Snapshot
	if due {
		snap = r.snapshotLocked(ctx, st)
	}
	st.mu.Unlock()

	if due {
		r.writeSnapshot(ctx, st, snap)
	}
}

// snapshotLocked 调用方持有 st.mu
func (r *Runner) snapshotLocked(ctx context.Context, st *run) Snapshot {
	s := Snapshot{
		RunID:     st.report.RunID,
		Hits:      st.report.Hits,
		Misses:    st.report.Misses,
		Errors:    st.report.Errors,
		Resolved:  st.report.Resolved,
		UpdatedAt: r.now().UTC(),
	}
	if r.cache != nil {
		cs := r.cache.Stats(context.WithoutCancel(ctx))
		s.KeysInCache = cs.Size
		s.UsedMemory = cs.MemoryUsed
		s.MaxMemory = cs.MemoryLimit
		s.EvictionPolicy = cs.EvictionPolicy
	}
	return s
}

// writeSnapshot 快照按完成数单调写出，较旧的快照不会覆盖较新的
func (r *Runner) writeSnapshot(ctx context.Context, st *run, s Snapshot) {
	if r.sink == nil {
		return
	}
	st.snapMu.Lock()
	defer st.snapMu.Unlock()
	if s.Resolved+s.Errors < st.lastSnap.Resolved+st.lastSnap.Errors {
		return
	}
	if err := r.sink.WriteSnapshot(context.WithoutCancel(ctx), s); err != nil {
		r.logger.Warn("snapshot write failed", zap.String("run_id", s.RunID), zap.Error(err))
		return
	}
	st.lastSnap = s
}

func (r *Runner) finish(ctx context.Context, st *run) (*Report, error) {
	st.mu.Lock()
	st.report.FinishedAt = r.now().UTC()
	st.report.Cancelled = ctx.Err() != nil
	snap := r.snapshotLocked(ctx, st)
	report := st.report
	st.mu.Unlock()

	r.writeSnapshot(ctx, st, snap)

	status := "completed"
	if report.Cancelled {
		status = "cancelled"
	}
	if r.metrics != nil {
		r.metrics.RecordBatchRun(status)
	}
	r.logger.Info("batch run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", status),
		zap.Int("total", report.Total),
		zap.Int64("hits", report.Hits),
		zap.Int64("misses", report.Misses),
		zap.Int64("errors", report.Errors),
		zap.Int("skipped", report.Skipped),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}
