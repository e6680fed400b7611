// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 qaflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 cache、store、llm、
pipeline、batch 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable 标记与请求键
  - Record            — 持久化记录（请求文本、参考值、计算值、评分、时间戳）
  - Source            — 解析来源（cache / store / client）

# 错误分类

  - CacheUnavailable        — 缓存传输失败，本次操作跳过缓存
  - StoreUnavailable        — 存储传输失败，本次操作跳过存储
  - RetryableClientError    — 上游超时 / 429 / 5xx，由凭证轮换与退避恢复
  - AllCredentialsExhausted — 一次调用内所有凭证失败
  - ResolutionFailed        — 单个键的终态失败，记录在批处理统计中
*/
package types
