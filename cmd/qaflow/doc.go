// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 qaflow 程序入口。

# 概述

cmd/qaflow 装配缓存、记录存储、凭证池、弹性客户端与解析管线，
并通过子命令对外提供 HTTP 服务、批量解析、记录导入、数据库迁移、
健康检查和版本查询。

# 子命令

  - serve：启动 API 服务（/v1/resolve、/v1/stats、/health、/ready、/version）
    与独立端口上的 /metrics
  - run：解析命令行或文件中的键，或 --pending 处理存储中所有待处理记录
  - seed：从 JSON Lines 文件导入记录
  - migrate：数据库迁移（up、down、steps、status、version、info、goto、force、reset）
  - version、health

# 中间件链

Recovery、RequestID、SecurityHeaders、RequestLogger、CORS、
RateLimiter（基于 IP）、MetricsMiddleware、OTelTracing，
最后是 JWTAuth 或 APIKeyAuth。/health、/ready、/version 不需要认证。
*/
package main
