// Package config 提供 qaflow 的配置管理功能。
//
// 配置优先级为默认值、YAML 文件、QAFLOW_ 前缀的环境变量，
// 嵌套字段的环境变量名按 env 标签逐级拼接，例如 QAFLOW_LLM_API_KEYS。
package config
