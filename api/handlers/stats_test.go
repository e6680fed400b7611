package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/qaflow/internal/cache"
	"github.com/BaSui01/qaflow/llm"
	"github.com/BaSui01/qaflow/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCacheStats struct{ s cache.Stats }

func (s stubCacheStats) Stats(context.Context) cache.Stats { return s.s }

type stubCounters struct{ c pipeline.Counters }

func (s stubCounters) Counters() pipeline.Counters { return s.c }

func TestStatsHandler(t *testing.T) {
	pool, err := llm.NewKeyPool([]string{"sk-stats-0001", "sk-stats-0002"}, llm.KeyPoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	pool.ReportFailure(0)

	h := NewStatsHandler(
		stubCacheStats{s: cache.Stats{Size: 3, Capacity: 10, Hits: 5, Misses: 2, EvictionPolicy: cache.PolicyLRU}},
		pool,
		stubCounters{c: pipeline.Counters{Resolutions: 7, CacheHits: 5}},
		time.Now().Add(-time.Minute),
	)

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.NotContains(t, body, "sk-stats-0001", "secrets never leave the process")

	var resp struct {
		Data struct {
			Cache                cache.Stats       `json:"cache"`
			Credentials          []llm.Credential  `json:"credentials"`
			CredentialsAvailable int               `json:"credentials_available"`
			Pipeline             pipeline.Counters `json:"pipeline"`
			Uptime               string            `json:"uptime"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, 3, resp.Data.Cache.Size)
	assert.Equal(t, cache.PolicyLRU, resp.Data.Cache.EvictionPolicy)
	require.Len(t, resp.Data.Credentials, 2)
	assert.Equal(t, 1, resp.Data.Credentials[0].FailureCount)
	assert.Equal(t, 1, resp.Data.CredentialsAvailable)
	assert.Equal(t, int64(7), resp.Data.Pipeline.Resolutions)
	assert.NotEmpty(t, resp.Data.Uptime)
}

func TestStatsHandler_WithoutPool(t *testing.T) {
	h := NewStatsHandler(stubCacheStats{}, nil, stubCounters{}, time.Now())

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
