// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供记录存储使用的 GORM 连接池管理。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Session、Ping、
    Stats、WithTransaction 与 Close。
  - PoolConfig：最大空闲/打开连接数、连接生命周期、获取连接超时
    与健康检查间隔。
  - Dialector/Open：按驱动名（postgres、mysql、sqlite）构造方言并打开连接池。

# 主要能力

  - 获取超时：调用方 context 无截止时间时，WithAcquireTimeout 附加
    AcquireTimeout，避免在连接耗尽时无限等待。
  - 健康检查：后台定时 PingContext 探活，Close 后退出。
  - 事务重试：WithTransactionRetry 对死锁、序列化失败、连接中断
    按指数退避重试。
*/
package database
