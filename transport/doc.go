// Package transport 定义引擎向实时 UI 推送交互事件的通道抽象。
//
// 引擎通过 Transport 接口在创建交互（及每次重试）时推送 PromptEvent，
// 在交互被解决时推送 ResponseEvent。推送是尽力而为的：失败由引擎
// 记录日志，绝不影响交互本身的生命周期。
//
// 内置实现：
//   - Nop：丢弃所有事件（默认）
//   - Fanout：并行广播到多个下游 Transport
//   - WebSocketHub：按 session 推送到已注册的 WebSocket 连接
package transport
