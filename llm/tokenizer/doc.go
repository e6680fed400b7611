// Package tokenizer 提供统一的 token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于上游请求的 token 指标。
package tokenizer
