// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 store 提供问题记录的持久化存储，是解析流水线中缓存之后的第二级。

# 核心类型

  - Store：Get、Upsert、Pending、Ping、Close。
  - SQLStore：基于 GORM 与 database.PoolManager，支持 postgres、mysql、
    sqlite，按方言生成 ON CONFLICT / ON DUPLICATE KEY 合并语句。
  - DynamoStore：基于 aws-sdk-go-v2，使用 UpdateItem 与 if_not_exists 合并。
  - MongoStore：基于 mongo-driver v2，使用聚合管道更新合并。
  - Instrument：为任意 Store 附加查询耗时与状态指标。

# 合并语义

  - request_text 与 reference_value 仅在当前为空时被覆盖。
  - 传入的空 computed_value 与空分数不清除已有值。
  - created_at 只在首次插入时写入。
*/
package store
