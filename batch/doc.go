// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 batch 以有界并发批量解析键。

Runner.Run 对给定键列表调用 Resolver（通常是 pipeline.Pipeline），
用 errgroup 限制并发度。单个键失败只记入报告，不会中止运行。
ctx 取消后不再派发新键，已开始的解析照常完成，未派发的键计入 Skipped。

Runner.RunPending 循环从存储拉取 computed_value 为空的记录，
每批 BatchSize 条，直到没有新的待处理记录。

每完成 SnapshotEvery 次解析以及运行结束时，Runner 生成一份 Snapshot
交给 SnapshotSink。FileSink 通过临时文件加 rename 原子写出 JSON。
*/
package batch
