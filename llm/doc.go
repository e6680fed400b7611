// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供对 OpenAI 兼容 chat/completions 上游的韧性调用能力，
包括多凭证轮询、失败冷却、指数退避、单次调用超时与限速。

# 概述

一次 [ResilientClient.Call] 最多尝试 凭证数 × RetryFactor 次。
每一轮对池中每个凭证各尝试一次：超时、429、5xx 与异常响应体视为可重试，
冷却当前凭证、退避后轮换到下一个；其余 4xx 立即失败。
所有尝试耗尽时返回 types.ErrAllCredentialsExhausted。

# 核心类型

  - [KeyPool]：凭证池，原子轮询下标，失败后按指数退避进入冷却，
    全部冷却时退化为返回最早失败的凭证
  - [Credential]：凭证快照（失败次数、冷却截止时间、请求统计）
  - [ResilientClient]：上游客户端，驱动 KeyPool 的成功/失败记录
  - [Caller]：客户端最小接口，供 pipeline 与 scoring 注入
  - [MessageContent]：兼容字符串与分段列表两种返回内容

# 可观测

  - 每次调用创建 llm.call span
  - 通过 [MetricsRecorder] 上报每次尝试的状态与耗时、token 用量
*/
package llm
