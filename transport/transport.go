package transport

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// PromptEvent 是推送给 UI 的人工决策请求事件。
// 创建交互和每次超时重试时各发送一次。
type PromptEvent struct {
	// InteractionID 交互唯一标识
	InteractionID string `json:"interaction_id"`
	// Type 交互类型（approval、input、choice、confirmation、custom）
	Type string `json:"type"`
	// Prompt 展示给人的提示文本
	Prompt string `json:"prompt"`
	// Timeout 等待人工响应的超时时间
	Timeout time.Duration `json:"timeout,omitempty"`
	// Required 是否必须响应
	Required bool `json:"required,omitempty"`
	// Retry 第几次重试（首次发送为 0）
	Retry int `json:"retry,omitempty"`
	// Metadata 自由附加信息
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResponseEvent 是交互被解决后推送给 UI 的结果事件。
type ResponseEvent struct {
	// InteractionID 交互唯一标识
	InteractionID string `json:"interaction_id"`
	// Response 人工响应或回退值
	Response any `json:"response,omitempty"`
	// ResponseTime 解决时间
	ResponseTime time.Time `json:"response_time"`
	// ResponseLatency 从创建到解决的耗时
	ResponseLatency time.Duration `json:"response_latency"`
	// Status 终态（responded、timeout、cancelled）
	Status string `json:"status"`
}

// Transport 将交互事件推送给实时 UI。
// 引擎对 Transport 的调用是 fire-and-forget 的：失败只记录日志，
// 不会传播给发起交互的调用方。
type Transport interface {
	// StreamHumanPrompt 推送一次人工决策请求
	StreamHumanPrompt(ctx context.Context, sessionID string, event PromptEvent) error
	// StreamHumanResponse 推送一次交互解决结果
	StreamHumanResponse(ctx context.Context, sessionID string, event ResponseEvent) error
}

// Nop 是丢弃所有事件的 Transport，用于测试和未配置实时通道的部署。
type Nop struct{}

// NewNop 创建 Nop Transport。
func NewNop() Nop { return Nop{} }

func (Nop) StreamHumanPrompt(context.Context, string, PromptEvent) error    { return nil }
func (Nop) StreamHumanResponse(context.Context, string, ResponseEvent) error { return nil }

// Fanout 将事件并行广播到多个 Transport，全部完成后返回合并的错误。
type Fanout struct {
	transports []Transport
}

// NewFanout 创建广播 Transport。
func NewFanout(transports ...Transport) *Fanout {
	return &Fanout{transports: transports}
}

// StreamHumanPrompt 并行推送到所有下游 Transport。
func (f *Fanout) StreamHumanPrompt(ctx context.Context, sessionID string, event PromptEvent) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range f.transports {
		g.Go(func() error {
			return t.StreamHumanPrompt(gctx, sessionID, event)
		})
	}
	return g.Wait()
}

// StreamHumanResponse 并行推送到所有下游 Transport。
func (f *Fanout) StreamHumanResponse(ctx context.Context, sessionID string, event ResponseEvent) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range f.transports {
		g.Go(func() error {
			return t.StreamHumanResponse(gctx, sessionID, event)
		})
	}
	return g.Wait()
}
