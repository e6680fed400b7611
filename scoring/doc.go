// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 scoring 为上游客户端产出的值打分。

当记录带有参考值时，解析管线在写入存储前调用 Scorer，
分数与计算值通过同一次 upsert 落库。

  - Noop：返回 ErrDisabled，管线不写入分数。
  - Judge：以参考值与候选值构造提示词调用上游模型，
    从回复中提取第一个 JSON 对象，读取 similarity_score、
    quality_score、completeness_score 三个分项。

总分 Overall = round(similarity*0.5 + quality*0.3 + completeness*0.2, 6)。
*/
package scoring
