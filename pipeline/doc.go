// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pipeline 实现读穿透的解析管线。

一次 Resolve 依次查询：

 1. 淘汰缓存，命中直接返回，来源为 cache；
 2. 持久化存储，记录已有计算值时回填缓存，来源为 store；
 3. 上游客户端，以记录的 request_text（缺省为键本身）作为提示词，
    结果先 upsert 到存储，成功后再写缓存，来源为 client。

缓存与存储的传输失败按未命中处理，记录日志并计数，不会使解析失败；
只有上游客户端失败才会返回 types.ErrResolutionFailed。

记录带参考值时，客户端结果在写入前交给 scoring.Scorer 打分，
分数与计算值通过同一次 upsert 写入。

同一键的并发解析通过 singleflight 合并，每个调用方仍可通过自己的
context 放弃等待。
*/
package pipeline
