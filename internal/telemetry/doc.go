// Package telemetry 为 qaflow serve 与 qaflow run 安装 OpenTelemetry
// provider，通过 OTLP gRPC 导出。资源属性带 qaflow.role、进程级
// service.instance.id，以及调用方附加的缓存策略与存储后端；遥测关闭时
// 只安装 W3C 传播器。解析管线的 pipeline.resolve span、上游客户端的
// 尝试耗时直方图都经由这里注册的全局 provider 导出。
package telemetry
