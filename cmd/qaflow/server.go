package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/qaflow/api"
	"github.com/BaSui01/qaflow/api/handlers"
	"github.com/BaSui01/qaflow/config"
	"github.com/BaSui01/qaflow/internal/server"
	"github.com/BaSui01/qaflow/internal/telemetry"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

// 不需要认证的路径
var publicPaths = []string{"/health", "/ready", "/version"}

// 指标使用的已知路由
var knownRoutes = []string{"/v1/resolve", "/v1/stats", "/health", "/ready", "/version"}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting qaflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	defer telemetry.Start(ctx, cfg.Telemetry, logger, telemetryOptions(cfg, "serve")...)()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := buildApp(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := NewServer(ctx, a, registry)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("qaflow stopped")
	return nil
}

// telemetryOptions 资源属性带上进程角色、缓存策略与存储后端
func telemetryOptions(cfg *config.Config, role string) []telemetry.Option {
	return []telemetry.Option{
		telemetry.WithVersion(Version),
		telemetry.WithRole(role),
		telemetry.WithAttributes(
			attribute.String("qaflow.cache.policy", cfg.Cache.Policy),
			attribute.String("qaflow.store.backend", cfg.Store.Backend),
		),
	}
}

// Server 组合 API 服务与指标服务
type Server struct {
	app      *app
	api      *server.Manager
	metrics  *server.Manager
	registry *prometheus.Registry
}

// NewServer 构建路由、中间件链与两个 HTTP 服务管理器。
// ctx 控制限流器后台清理协程的生命周期。
func NewServer(ctx context.Context, a *app, registry *prometheus.Registry) *Server {
	cfg := a.cfg.Server
	s := &Server{app: a, registry: registry}

	s.api = server.NewManager(s.routes(ctx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", cfg.HTTPPort),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, a.logger)

	if cfg.MetricsPort > 0 {
		s.metrics = server.NewManager(s.metricsHandler(), server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", cfg.MetricsPort),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     time.Minute,
			MaxHeaderBytes:  1 << 16,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, a.logger)
	}
	return s
}

// routes 注册 API 路由并套上中间件链
func (s *Server) routes(ctx context.Context) http.Handler {
	a := s.app
	cfg := a.cfg.Server

	health := handlers.NewHealthHandler(a.logger)
	health.RegisterCheck(handlers.NewPingCheck("store", a.store.Ping))
	health.RegisterDegradable(handlers.NewPingCheck("cache", a.cache.Ping))
	if a.pool != nil {
		health.RegisterDegradable(handlers.NewCredentialsCheck(a.pool.Available))
	}

	resolve := handlers.NewResolveHandler(a.pipeline, a.logger)
	stats := handlers.NewStatsHandler(a.cache, a.pool, a.pipeline, a.started)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/resolve", resolve.HandleResolve)
	mux.HandleFunc("GET /v1/stats", stats.HandleStats)
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(api.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		StartedAt: a.started,
	}))

	chain := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(a.logger),
		CORS(cfg.CORSAllowedOrigins),
	}
	if cfg.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, float64(cfg.RateLimitRPS), cfg.RateLimitBurst, a.logger))
	}
	chain = append(chain, MetricsMiddleware(a.collector, knownRoutes), OTelTracing())
	chain = append(chain, authMiddleware(a.cfg, a.logger)...)

	return Chain(mux, chain...)
}

// authMiddleware 按配置选择认证方式：JWT 优先，其次 API Key，都未配置时不认证
func authMiddleware(cfg *config.Config, logger *zap.Logger) []Middleware {
	switch {
	case cfg.JWT.Enabled():
		return []Middleware{JWTAuth(cfg.JWT, publicPaths, logger)}
	case len(cfg.Server.APIKeys) > 0:
		return []Middleware{APIKeyAuth(cfg.Server.APIKeys, publicPaths, cfg.Server.AllowQueryAPIKey, logger)}
	default:
		logger.Warn("no authentication configured, API is open")
		return nil
	}
}

// metricsHandler 在抓取前刷新按需计算的指标
func (s *Server) metricsHandler() http.Handler {
	promHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.app.refreshGauges()
		promHandler.ServeHTTP(w, r)
	}))
	return mux
}

// Run 运行 API 与指标服务，直到 ctx 结束或任一服务失败
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.api.Run(ctx) })
	if s.metrics != nil {
		g.Go(func() error { return s.metrics.Run(ctx) })
	}
	return g.Wait()
}
