package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/qaflow/llm"
	"go.uber.org/zap"
)

// ErrUnparseable 评审回复中没有可解析的 JSON 对象
var ErrUnparseable = errors.New("judge reply contains no JSON object")

const judgePrompt = `Evaluate these answers:
Reference: %s
Candidate: %s

Reply in JSON with exactly these keys:
{
  "similarity_score": 0.0,
  "quality_score": 0.0,
  "completeness_score": 0.0
}
Return ONLY JSON (no additional text).`

// Judge 通过上游模型对候选值打分
type Judge struct {
	caller llm.Caller
	model  string
	logger *zap.Logger
}

// NewJudge 创建评审器，model 为空时使用客户端默认模型
func NewJudge(caller llm.Caller, model string, logger *zap.Logger) *Judge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{
		caller: caller,
		model:  model,
		logger: logger.With(zap.String("component", "judge")),
	}
}

// Score 调用模型并从回复中提取分数
func (j *Judge) Score(ctx context.Context, reference, candidate string) (Scores, error) {
	resp, err := j.caller.Call(ctx, llm.Request{
		Model:  j.model,
		Prompt: fmt.Sprintf(judgePrompt, reference, candidate),
	})
	if err != nil {
		return Scores{}, fmt.Errorf("judge call: %w", err)
	}

	s, err := ParseScores(resp.Content)
	if err != nil {
		j.logger.Warn("judge reply not parseable",
			zap.String("reply", truncate(resp.Content, 200)),
			zap.Error(err))
		return Scores{}, err
	}
	return s, nil
}

// ParseScores 从模型回复中提取第一个 JSON 对象并计算总分。
// 缺失或非数值的分项按 0 处理。
func ParseScores(reply string) (Scores, error) {
	obj, ok := firstJSONObject(reply)
	if !ok {
		return Scores{}, ErrUnparseable
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return Scores{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return NewScores(
		toFloat(raw["similarity_score"]),
		toFloat(raw["quality_score"]),
		toFloat(raw["completeness_score"]),
	), nil
}

// firstJSONObject 返回文本中第一个括号平衡的 {...} 片段，跳过字符串内的括号
func firstJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
