// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 qaflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor
  - JSON 辅助: AssertJSONEqual / MustJSON / DecodeData（解析 API 响应信封）
  - 本地上游: NewUpstream 启动兼容 chat/completions 的 httptest 服务，
    Constant / Status 构造应答，NewClient 创建指向它的凭证池与客户端

# 使用示例

	up := testutil.NewUpstream(t, testutil.Constant("Paris"))
	pool, client := testutil.NewClient(t, up, "sk-test-1", "sk-test-2")
*/
package testutil
