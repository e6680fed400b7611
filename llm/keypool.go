package llm

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/qaflow/llm/retry"
	"go.uber.org/zap"
)

// ErrNoCredentials 凭证池为空
var ErrNoCredentials = errors.New("no API credentials configured")

// Credential 凭证快照
type Credential struct {
	ID             int       `json:"id"`
	Label          string    `json:"label"`
	Secret         string    `json:"-"`
	FailureCount   int       `json:"failure_count"`
	CooldownUntil  time.Time `json:"cooldown_until"`
	LastFailureAt  time.Time `json:"last_failure_at"`
	TotalRequests  int64     `json:"total_requests"`
	FailedRequests int64     `json:"failed_requests"`
}

// CoolingDown 凭证在 now 时刻是否处于冷却期
func (c Credential) CoolingDown(now time.Time) bool {
	return now.Before(c.CooldownUntil)
}

// KeyPoolConfig 冷却退避配置
type KeyPoolConfig struct {
	CooldownInitial time.Duration `yaml:"cooldown_initial" json:"cooldown_initial"`
	CooldownMax     time.Duration `yaml:"cooldown_max" json:"cooldown_max"`
	Multiplier      float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultKeyPoolConfig 返回默认冷却配置
func DefaultKeyPoolConfig() KeyPoolConfig {
	return KeyPoolConfig{
		CooldownInitial: 10 * time.Second,
		CooldownMax:     5 * time.Minute,
		Multiplier:      2.0,
	}
}

// KeyPoolOption 凭证池选项
type KeyPoolOption func(*KeyPool)

// WithKeyPoolClock 注入时钟
func WithKeyPoolClock(now func() time.Time) KeyPoolOption {
	return func(p *KeyPool) { p.now = now }
}

// WithCooldownHook 凭证进入冷却时回调，用于指标上报
func WithCooldownHook(fn func(label string, failures int)) KeyPoolOption {
	return func(p *KeyPool) { p.onCooldown = fn }
}

// KeyPool 轮询凭证池
//
// 轮询下标是原子计数器；凭证状态由 mu 保护，只在 ReportFailure/ReportSuccess 中修改。
// 凭证只会进入冷却，不会被移除。
type KeyPool struct {
	mu       sync.RWMutex
	creds    []*Credential
	next     atomic.Uint64
	current  atomic.Uint64
	cooldown *retry.RetryPolicy
	now      func() time.Time
	logger   *zap.Logger

	onCooldown func(label string, failures int)
}

// NewKeyPool 从密钥列表创建凭证池，空白项被忽略，重复项只保留一次
func NewKeyPool(secrets []string, cfg KeyPoolConfig, logger *zap.Logger, opts ...KeyPoolOption) (*KeyPool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultKeyPoolConfig()
	if cfg.CooldownInitial <= 0 {
		cfg.CooldownInitial = defaults.CooldownInitial
	}
	if cfg.CooldownMax <= 0 {
		cfg.CooldownMax = defaults.CooldownMax
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = defaults.Multiplier
	}

	seen := make(map[string]struct{}, len(secrets))
	creds := make([]*Credential, 0, len(secrets))
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		creds = append(creds, &Credential{ID: len(creds), Label: maskSecret(s), Secret: s})
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}

	p := &KeyPool{
		creds: creds,
		cooldown: &retry.RetryPolicy{
			InitialDelay: cfg.CooldownInitial,
			MaxDelay:     cfg.CooldownMax,
			Multiplier:   cfg.Multiplier,
		},
		now:    time.Now,
		logger: logger.With(zap.String("component", "key_pool")),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger.Info("key pool initialized", zap.Int("credentials", len(creds)))
	return p, nil
}

// Size 凭证数量
func (p *KeyPool) Size() int {
	return len(p.creds)
}

// Current 返回当前凭证，不阻塞
func (p *KeyPool) Current() Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.creds[p.current.Load()%uint64(len(p.creds))]
}

// Rotate 轮询到下一个未冷却的凭证；全部冷却时返回最早失败的一个
func (p *KeyPool) Rotate() Credential {
	return p.RotateExcluding(nil)
}

// RotateExcluding 与 Rotate 相同，但优先跳过 tried 中的凭证。
// tried 覆盖全部凭证时退化为 Rotate。
func (p *KeyPool) RotateExcluding(tried map[int]struct{}) Credential {
	start := p.next.Add(1)
	now := p.now()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(tried) >= len(p.creds) {
		tried = nil
	}

	idx, ok := p.pick(start, now, tried)
	if !ok {
		idx, _ = p.pick(start, now, nil)
	}
	p.current.Store(idx)
	return *p.creds[idx]
}

// pick 先找未冷却的凭证，否则返回最早失败的凭证；调用方持有读锁
func (p *KeyPool) pick(start uint64, now time.Time, tried map[int]struct{}) (uint64, bool) {
	n := uint64(len(p.creds))
	var (
		fallback uint64
		found    bool
	)
	for off := uint64(0); off < n; off++ {
		i := (start + off) % n
		c := p.creds[i]
		if _, skip := tried[c.ID]; skip {
			continue
		}
		if !c.CoolingDown(now) {
			return i, true
		}
		if !found || c.LastFailureAt.Before(p.creds[fallback].LastFailureAt) {
			fallback = i
			found = true
		}
	}
	return fallback, found
}

// ReportFailure 记录失败并进入指数退避冷却
func (p *KeyPool) ReportFailure(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.lookup(id)
	if c == nil {
		return
	}
	now := p.now()
	c.FailureCount++
	c.TotalRequests++
	c.FailedRequests++
	c.LastFailureAt = now
	c.CooldownUntil = now.Add(p.cooldown.Delay(c.FailureCount))

	p.logger.Warn("credential cooling down",
		zap.String("credential", c.Label),
		zap.Int("failure_count", c.FailureCount),
		zap.Time("cooldown_until", c.CooldownUntil))
	if p.onCooldown != nil {
		p.onCooldown(c.Label, c.FailureCount)
	}
}

// ReportSuccess 记录成功并清零失败计数
func (p *KeyPool) ReportSuccess(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.lookup(id)
	if c == nil {
		return
	}
	c.TotalRequests++
	c.FailureCount = 0
	c.CooldownUntil = time.Time{}
}

// Credentials 返回全部凭证的快照
func (p *KeyPool) Credentials() []Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = *c
	}
	return out
}

// Available 当前未冷却的凭证数量
func (p *KeyPool) Available() int {
	now := p.now()
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, c := range p.creds {
		if !c.CoolingDown(now) {
			n++
		}
	}
	return n
}

func (p *KeyPool) lookup(id int) *Credential {
	if id < 0 || id >= len(p.creds) {
		return nil
	}
	return p.creds[id]
}

// maskSecret 日志中只保留密钥首尾
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
