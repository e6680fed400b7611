// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供容量受限的淘汰缓存，在可插拔的键值后端之上维护
一份权威的常驻索引，并按 LRU / FIFO / LFU / RANDOM 策略淘汰。

# 核心类型

  - EvictingCache：淘汰缓存。索引按键哈希分片，每个分片持有自己的
    堆（或随机槽位）索引；全局容量通过原子预留计数保证，
    淘汰时比较各分片堆顶选出全局受害者。
  - Backend：存储后端接口，提供 Get/Set/Del/Exists/DBSize/Keys/
    InfoMemory/Ping/Close。
  - RedisBackend：基于 go-redis 的后端，键带统一前缀，支持 TLS 与
    后台健康检查。
  - MemoryBackend：分片内存后端，用于单机部署与测试。
  - Stats：命中率、淘汰次数与后端内存占用快照。

# 语义

  - 索引中不存在的键直接视为未命中，不访问后端。
  - 后端返回未命中时，键从索引中移除。
  - Put 先写后端，成功后才纳入索引；写失败时缓存状态不变。
  - 更新已存在的键只刷新访问时间与过期时间，不触发淘汰。
  - ttl 为 0 时使用默认 TTL，小于 0 表示永不过期。
  - 错误语义：ErrCacheMiss 表示未命中，传输故障包装为
    types.ErrCacheUnavailable。
*/
package cache
