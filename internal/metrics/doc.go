// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的解析链路指标采集。

# 概述

Collector 通过 promauto.With 注册到调用方注入的 Registerer，
测试中每个用例使用独立的 prometheus.Registry。所有指标按 namespace
隔离。

# 指标分组

  - HTTP：请求总数（状态码归类为 2xx/3xx/4xx/5xx）、耗时、响应体大小。
  - 解析：按 source/status 的解析次数与耗时，进行中的解析数。
  - 上游客户端：按 model/status 的尝试次数与耗时、token 用量、
    凭证冷却次数与可用凭证数。
  - 缓存：按淘汰策略分组的命中、未命中与淘汰次数，索引键数。
  - 存储：按 backend/operation/status 的查询次数与耗时，连接池 Gauge。
  - 批处理：逐键结果与运行次数。

Collector 同时满足 llm.MetricsRecorder 与 store.QueryRecorder。
*/
package metrics
