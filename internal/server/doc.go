// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 qaflow serve 中 API 与指标两个 HTTP 服务的生命周期。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供
    Start/Run/Shutdown 与异步错误通道。
  - Config：监听地址、读写与空闲超时、最大请求头大小、优雅关闭超时。

# 生命周期

Start 非阻塞地监听并服务；Run 在此基础上阻塞，直到 ctx 取消
（通常来自 signal.NotifyContext）或服务异常退出，然后在
ShutdownTimeout 内排空请求。Shutdown 可重复调用。
*/
package server
