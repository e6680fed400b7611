package api

import (
	"time"

	"github.com/BaSui01/qaflow/internal/cache"
	"github.com/BaSui01/qaflow/llm"
	"github.com/BaSui01/qaflow/pipeline"
	"github.com/BaSui01/qaflow/types"
)

// =============================================================================
// 解析类型
// =============================================================================

// ResolveRequest 解析请求
// @Description 解析单个键
type ResolveRequest struct {
	// 要解析的键
	Key string `json:"key" example:"What is the capital of France?" binding:"required"`
}

// ResolveResponse 解析结果
// @Description 解析结果与来源
type ResolveResponse struct {
	// 请求的键
	Key string `json:"key" example:"What is the capital of France?"`
	// 解析出的值
	Value string `json:"value" example:"Paris"`
	// 结果来源（cache、store、client）
	Source types.Source `json:"source" example:"cache"`
}

// =============================================================================
// 统计类型
// =============================================================================

// StatsResponse 运行时统计
// @Description 缓存、凭证池与解析管线的统计快照
type StatsResponse struct {
	// 缓存统计
	Cache cache.Stats `json:"cache"`
	// 凭证状态，不含密钥
	Credentials []llm.Credential `json:"credentials"`
	// 当前可用（未冷却）的凭证数
	CredentialsAvailable int `json:"credentials_available"`
	// 管线计数
	Pipeline pipeline.Counters `json:"pipeline"`
	// 服务运行时长
	Uptime string `json:"uptime" example:"1h2m3s"`
}

// VersionInfo 版本信息
type VersionInfo struct {
	Version   string    `json:"version" example:"1.0.0"`
	BuildTime string    `json:"build_time,omitempty"`
	GitCommit string    `json:"git_commit,omitempty"`
	StartedAt time.Time `json:"started_at"`
}
