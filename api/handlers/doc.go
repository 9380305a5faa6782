// Package handlers 提供 HTTP API 处理器。
//
// 每个 handler 围绕一个领域对象组织：
//   - InteractionHandler：交互生命周期（创建、响应、取消、查询、导出）
//   - StreamHandler：WebSocket 实时事件订阅
//   - HealthHandler：健康检查与版本信息
//
// 所有 handler 使用 common.go 中的统一响应结构与错误码映射。
package handlers
