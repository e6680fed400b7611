package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/BaSui01/qaflow/api"
	"github.com/BaSui01/qaflow/pipeline"
	"github.com/BaSui01/qaflow/types"
	"go.uber.org/zap"
)

// Resolver 单键解析
type Resolver interface {
	Resolve(ctx context.Context, key string) (pipeline.Result, error)
}

// ResolveHandler 解析处理器
type ResolveHandler struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewResolveHandler 创建解析处理器
func NewResolveHandler(resolver Resolver, logger *zap.Logger) *ResolveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolveHandler{
		resolver: resolver,
		logger:   logger.With(zap.String("handler", "resolve")),
	}
}

// HandleResolve 处理 POST /v1/resolve
// @Summary 解析键
// @Description 按缓存、存储、上游客户端的顺序解析键
// @Tags 解析
// @Accept json
// @Produce json
// @Param request body api.ResolveRequest true "解析请求"
// @Success 200 {object} Response{data=api.ResolveResponse} "解析结果"
// @Failure 400 {object} Response "请求无效"
// @Failure 502 {object} Response "上游解析失败"
// @Router /v1/resolve [post]
func (h *ResolveHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ResolveRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	key := strings.TrimSpace(req.Key)
	if key == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "key is required", h.logger)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), key)
	if err != nil {
		WriteError(w, AsError(err), h.logger)
		return
	}

	WriteSuccess(w, api.ResolveResponse{
		Key:    res.Key,
		Value:  res.Value,
		Source: res.Source,
	})
}
