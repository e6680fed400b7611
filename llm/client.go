package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/qaflow/internal/tlsutil"
	"github.com/BaSui01/qaflow/llm/retry"
	"github.com/BaSui01/qaflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/BaSui01/qaflow/llm"

// ClientConfig 上游客户端配置
type ClientConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	EndpointPath      string        `yaml:"endpoint_path" json:"endpoint_path"`
	Model             string        `yaml:"model" json:"model"`
	CallTimeout       time.Duration `yaml:"call_timeout" json:"call_timeout"`
	RetryFactor       int           `yaml:"retry_factor" json:"retry_factor"`
	BackoffInitial    time.Duration `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max" json:"backoff_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
	MaxConnsPerHost   int           `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	Referer           string        `yaml:"referer" json:"referer"`
	Title             string        `yaml:"title" json:"title"`
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "https://openrouter.ai/api/v1",
		EndpointPath:   "/chat/completions",
		Model:          "nvidia/nemotron-nano-9b-v2:free",
		CallTimeout:    30 * time.Second,
		RetryFactor:    1,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
	}
}

// Request 一次上游调用
type Request struct {
	Model       string
	Prompt      string
	Temperature *float64
	MaxTokens   int
}

// Response 上游调用结果
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	CredentialID int           `json:"credential_id"`
	Attempts     int           `json:"attempts"`
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"latency"`
}

// TokenCounter 估算提示词 token 数
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// MetricsRecorder 客户端指标钩子
type MetricsRecorder interface {
	RecordClientAttempt(model, status string, duration time.Duration)
	RecordTokens(model string, prompt, completion int)
}

// Caller 是 ResilientClient 的最小接口，便于上层注入替身
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// ClientOption 客户端选项
type ClientOption func(*ResilientClient)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *ResilientClient) { c.http = hc }
}

// WithTokenCounter 注入 token 计数器
func WithTokenCounter(tc TokenCounter) ClientOption {
	return func(c *ResilientClient) { c.tokens = tc }
}

// WithMetrics 注入指标记录器
func WithMetrics(m MetricsRecorder) ClientOption {
	return func(c *ResilientClient) { c.metrics = m }
}

// ResilientClient 带凭证轮换、退避与限速的上游客户端
type ResilientClient struct {
	cfg      ClientConfig
	endpoint string
	pool     *KeyPool
	http     *http.Client
	limiter  *rate.Limiter
	backoff  retry.RetryPolicy
	tokens   TokenCounter
	metrics  MetricsRecorder
	tracer   trace.Tracer
	attempts metric.Float64Histogram
	logger   *zap.Logger
}

// NewResilientClient 创建客户端
func NewResilientClient(cfg ClientConfig, pool *KeyPool, logger *zap.Logger, opts ...ClientOption) (*ResilientClient, error) {
	if pool == nil || pool.Size() == 0 {
		return nil, ErrNoCredentials
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultClientConfig()
	if cfg.BaseURL == "" {
		return nil, errors.New("llm base_url is required")
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = defaults.EndpointPath
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	if cfg.RetryFactor <= 0 {
		cfg.RetryFactor = 1
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaults.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}

	c := &ResilientClient{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.EndpointPath, "/"),
		pool:     pool,
		// 兜底超时略大于单次调用超时，真正的截止时间由 context 控制
		http: tlsutil.SecureHTTPClient(cfg.CallTimeout+5*time.Second, cfg.MaxConnsPerHost),
		backoff: retry.RetryPolicy{
			InitialDelay: cfg.BackoffInitial,
			MaxDelay:     cfg.BackoffMax,
			Multiplier:   2.0,
			Jitter:       true,
		},
		tracer: otel.Tracer(tracerName),
		logger: logger.With(zap.String("component", "llm_client")),
	}
	// 遥测关闭时全局 MeterProvider 为 noop，创建不会失败
	c.attempts, _ = otel.Meter(tracerName).Float64Histogram("qaflow.llm.attempt.duration",
		metric.WithDescription("Duration of single upstream attempts"),
		metric.WithUnit("s"))
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MaxAttempts 单次调用的最大尝试次数
func (c *ResilientClient) MaxAttempts() int {
	return c.pool.Size() * c.cfg.RetryFactor
}

// Pool 返回凭证池
func (c *ResilientClient) Pool() *KeyPool {
	return c.pool
}

// Call 发起一次上游调用。
// 每轮按凭证池大小尝试每个凭证一次，共 RetryFactor 轮；
// 可重试失败会冷却当前凭证、退避后轮换，不可重试的 4xx 立即返回。
func (c *ResilientClient) Call(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is empty").WithHTTPStatus(http.StatusBadRequest)
	}

	ctx, span := c.tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	n := c.pool.Size()
	maxAttempts := c.MaxAttempts()
	tried := make(map[int]struct{}, n)
	start := time.Now()

	policy := c.backoff
	policy.MaxRetries = maxAttempts - 1
	policy.ShouldRetry = types.IsRetryable

	var result *Response
	err := retry.NewBackoffRetryer(&policy, c.logger).Do(ctx, func(attempt int) error {
		if len(tried) == n {
			clear(tried)
		}

		var cred Credential
		if attempt == 0 {
			cred = c.pool.Current()
			if cred.CoolingDown(c.pool.now()) {
				cred = c.pool.RotateExcluding(tried)
			}
		} else {
			cred = c.pool.RotateExcluding(tried)
		}
		tried[cred.ID] = struct{}{}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}

		resp, err := c.attempt(ctx, cred, req)
		if err == nil {
			c.pool.ReportSuccess(cred.ID)
			resp.Attempts = attempt + 1
			resp.Latency = time.Since(start)
			result = resp
			return nil
		}
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		if credentialFault(err) {
			c.pool.ReportFailure(cred.ID)
		}

		c.logger.Warn("upstream attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.String("credential", cred.Label),
			zap.Error(err))
		return err
	})

	if err == nil {
		span.SetAttributes(attribute.Int("llm.attempts", result.Attempts))
		return result, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, retry.ErrAttemptsExhausted) {
		return nil, types.AllCredentialsExhausted(maxAttempts, err)
	}
	return nil, fmt.Errorf("llm call: %w", err)
}

// attempt 使用指定凭证执行一次请求，超时计为可重试失败
func (c *ResilientClient) attempt(ctx context.Context, cred Credential, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	begin := time.Now()
	resp, err := c.do(attemptCtx, cred, req)
	status := "success"
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = types.NewError(types.ErrUpstreamTimeout, "upstream call timed out").
				WithCause(err).
				WithHTTPStatus(http.StatusGatewayTimeout).
				WithRetryable(true)
		}
		status = strings.ToLower(string(types.GetErrorCode(err)))
		if status == "" {
			status = "error"
		}
	}
	elapsed := time.Since(begin)
	if c.metrics != nil {
		c.metrics.RecordClientAttempt(req.Model, status, elapsed)
	}
	if c.attempts != nil {
		c.attempts.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("model", req.Model),
			attribute.String("status", status),
		))
	}
	return resp, err
}

func (c *ResilientClient) do(ctx context.Context, cred Credential, req Request) (*Response, error) {
	body := ChatRequest{
		Model:       req.Model,
		Messages:    []ChatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	c.buildHeaders(httpReq, cred.Secret)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, retryableClientError("upstream transport error", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp.StatusCode, readErrorMessage(httpResp.Body))
	}

	var chat ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chat); err != nil {
		return nil, retryableClientError("decode upstream response", err)
	}
	if len(chat.Choices) == 0 {
		return nil, retryableClientError("upstream returned no choices", nil)
	}
	content := strings.TrimSpace(chat.Choices[0].Message.Content.Text)
	if content == "" {
		return nil, retryableClientError("upstream returned empty content", nil)
	}

	usage := chat.Usage
	if usage.PromptTokens == 0 && c.tokens != nil {
		if n, err := c.tokens.CountTokens(req.Prompt); err == nil {
			usage.PromptTokens = n
		}
	}
	if c.metrics != nil {
		c.metrics.RecordTokens(req.Model, usage.PromptTokens, usage.CompletionTokens)
	}

	model := chat.Model
	if model == "" {
		model = req.Model
	}
	return &Response{
		Content:      content,
		Model:        model,
		CredentialID: cred.ID,
		Usage:        usage,
	}, nil
}

func (c *ResilientClient) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}
}
