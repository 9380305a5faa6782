// humanloop 命令是人工决策生命周期服务的可执行入口。
//
// 它把 hitl 引擎、approval 规则引擎、persistence 存储、transport
// WebSocket 推送与 REST API 组装为一个完整服务：
//
//   - main.go：命令解析、配置加载、日志与遥测初始化
//   - server.go：组件接线、路由注册、优雅关闭
//   - middleware.go：恢复、日志、指标、追踪、限流与认证中间件
package main
