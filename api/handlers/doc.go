// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 qaflow HTTP API 的请求处理器实现。

# 核心类型

  - ResolveHandler   — POST /v1/resolve，调用解析管线
  - StatsHandler     — GET /v1/stats，缓存、凭证池与管线统计
  - HealthHandler    — /health、/ready、/version；存储失败为 unhealthy，
    缓存或凭证池失败为 degraded
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与字节数
  - HealthCheck      — 依赖检查接口，PingCheck 包装缓存与存储的 Ping，
    NewCredentialsCheck 检查凭证池是否全部冷却

# 错误处理

types.Error 的 HTTPStatus 优先；未设置时按错误码映射。
非结构化错误统一视为 INTERNAL_ERROR。
*/
package handlers
