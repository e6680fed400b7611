package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/qaflow/llm"
)

// Reply 上游对一次调用的应答：状态码与内容。
// 状态码为 200 时 content 作为 assistant 消息返回，否则作为错误消息。
type Reply func(prompt, key string) (status int, content string)

// Upstream 兼容 chat/completions 的本地上游
type Upstream struct {
	*httptest.Server

	calls atomic.Int32
	mu    sync.Mutex
	keys  []string
}

// NewUpstream 启动本地上游，测试结束时自动关闭
func NewUpstream(t *testing.T, reply Reply) *Upstream {
	t.Helper()
	u := &Upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		u.mu.Lock()
		u.keys = append(u.keys, key)
		u.mu.Unlock()

		var req llm.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var prompt string
		if n := len(req.Messages); n > 0 {
			prompt = req.Messages[n-1].Content
		}

		status, content := reply(prompt, key)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": content}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-test",
			"model": req.Model,
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(u.Close)
	return u
}

// Constant 总是返回同一内容
func Constant(content string) Reply {
	return func(string, string) (int, string) { return http.StatusOK, content }
}

// Status 总是返回指定错误状态
func Status(code int) Reply {
	return func(string, string) (int, string) { return code, http.StatusText(code) }
}

// Calls 已收到的请求数
func (u *Upstream) Calls() int { return int(u.calls.Load()) }

// Keys 按顺序返回每次请求使用的凭证
func (u *Upstream) Keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.keys...)
}

// NewClient 创建指向本地上游的凭证池与客户端，退避缩短到毫秒级
func NewClient(t *testing.T, u *Upstream, secrets ...string) (*llm.KeyPool, *llm.ResilientClient) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	pool, err := llm.NewKeyPool(secrets, llm.KeyPoolConfig{CooldownInitial: time.Minute}, logger)
	require.NoError(t, err)
	client, err := llm.NewResilientClient(llm.ClientConfig{
		BaseURL:        u.URL,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}, pool, logger)
	require.NoError(t, err)
	return pool, client
}
