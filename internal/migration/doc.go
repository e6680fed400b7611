// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 records 表的 Schema 版本，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌：000001 创建 records 表，
000002 为待计算记录（computed_value 为空）建立按 created_at 排序的
索引，供 Store.Pending 使用。

# 核心类型

  - Migrator / SchemaMigrator：Up/Down/Reset/Steps/Goto/Force/Version/
    Status/Info/Verify/Close。ctx 取消时请求 golang-migrate 在当前文件
    执行完后停止。
  - Info：版本概况，records 表存在时附带记录总数与待计算记录数。
  - Verify：版本为最新、非 dirty，且 records 表具备 RecordColumns 全部列。
  - CLI：终端格式化输出，Run 按子命令名分派，供 qaflow migrate 使用。

# 创建方式

NewMigratorFromConfig 从应用配置创建，NewMigratorFromURL 从显式连接串创建，
NewMigratorFromDB 复用已有连接。
*/
package migration
