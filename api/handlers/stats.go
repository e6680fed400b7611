package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/qaflow/api"
	"github.com/BaSui01/qaflow/internal/cache"
	"github.com/BaSui01/qaflow/llm"
	"github.com/BaSui01/qaflow/pipeline"
)

// CacheStatsSource 缓存统计来源
type CacheStatsSource interface {
	Stats(ctx context.Context) cache.Stats
}

// CredentialSource 凭证池状态来源
type CredentialSource interface {
	Credentials() []llm.Credential
	Available() int
}

// CounterSource 管线计数来源
type CounterSource interface {
	Counters() pipeline.Counters
}

// StatsHandler 统计处理器
type StatsHandler struct {
	cache    CacheStatsSource
	pool     CredentialSource
	pipeline CounterSource
	started  time.Time
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(c CacheStatsSource, pool CredentialSource, p CounterSource, started time.Time) *StatsHandler {
	return &StatsHandler{cache: c, pool: pool, pipeline: p, started: started}
}

// HandleStats 处理 GET /v1/stats
// @Summary 运行时统计
// @Tags 统计
// @Produce json
// @Success 200 {object} Response{data=api.StatsResponse} "统计快照"
// @Router /v1/stats [get]
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := api.StatsResponse{
		Cache:    h.cache.Stats(r.Context()),
		Pipeline: h.pipeline.Counters(),
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.pool != nil {
		resp.Credentials = h.pool.Credentials()
		resp.CredentialsAvailable = h.pool.Available()
	}
	WriteSuccess(w, resp)
}
