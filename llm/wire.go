package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAI 兼容 chat/completions 线协议

// ChatMessage 请求消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 请求体
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ContentSegment 分段内容中的一段
type ContentSegment struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageContent 兼容纯字符串与分段列表两种返回形式，只保留文本段
type MessageContent struct {
	Text string
}

// UnmarshalJSON 解析字符串或 [{type,text}] 列表
func (m *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		m.Text = ""
		return nil
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &m.Text)
	case '[':
		var segments []ContentSegment
		if err := json.Unmarshal(data, &segments); err != nil {
			return fmt.Errorf("decode content segments: %w", err)
		}
		var sb strings.Builder
		for _, seg := range segments {
			if seg.Type == "text" || (seg.Type == "" && seg.Text != "") {
				sb.WriteString(seg.Text)
			}
		}
		m.Text = sb.String()
		return nil
	default:
		return fmt.Errorf("unsupported message content: %.32s", data)
	}
}

// MarshalJSON 总是输出字符串形式
func (m MessageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Text)
}

// ResponseMessage 响应消息
type ResponseMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// ChatChoice 响应候选
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse 响应体
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Created int64        `json:"created"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}
