package tokenizer

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Counter 是统一的 token 计数接口
type Counter interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// Name 返回计数器名称
	Name() string
}

// FallbackCounter 优先使用主计数器，失败后永久切换到备用估算器
type FallbackCounter struct {
	primary  Counter
	fallback Counter
	degraded atomic.Bool
	logger   *zap.Logger
}

// NewFallbackCounter 组合主计数器与备用计数器
func NewFallbackCounter(primary, fallback Counter, logger *zap.Logger) *FallbackCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackCounter{primary: primary, fallback: fallback, logger: logger}
}

// ForModel 为模型返回 tiktoken 计数器，编码不可用时退回估算器
func ForModel(model string, logger *zap.Logger) *FallbackCounter {
	return NewFallbackCounter(NewTiktokenTokenizer(model), NewEstimatorTokenizer(), logger)
}

func (f *FallbackCounter) CountTokens(text string) (int, error) {
	if !f.degraded.Load() {
		n, err := f.primary.CountTokens(text)
		if err == nil {
			return n, nil
		}
		if f.degraded.CompareAndSwap(false, true) {
			f.logger.Warn("token counter degraded to estimator",
				zap.String("primary", f.primary.Name()),
				zap.Error(err))
		}
	}
	return f.fallback.CountTokens(text)
}

func (f *FallbackCounter) Name() string {
	if f.degraded.Load() {
		return f.fallback.Name()
	}
	return f.primary.Name()
}
