package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// wsEnvelope 是 WebSocket 通道上的统一事件信封。
type wsEnvelope struct {
	Event     string `json:"event"` // human_prompt / human_response
	SessionID string `json:"session_id"`
	Data      any    `json:"data"`
}

// wsConn 包装单个 WebSocket 连接。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// WebSocketHub 将交互事件按 session 推送到已注册的 WebSocket 连接。
// 一个 session 可以有多个订阅者（例如多个打开的审批面板）。
// 写失败的连接会被移除并关闭，不影响其他订阅者。
type WebSocketHub struct {
	logger       *zap.Logger
	writeTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]map[*wsConn]struct{}
	closed   bool
}

// NewWebSocketHub 创建 WebSocket 推送中心。
func NewWebSocketHub(logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHub{
		logger:       logger.With(zap.String("component", "ws_hub")),
		writeTimeout: 10 * time.Second,
		sessions:     make(map[string]map[*wsConn]struct{}),
	}
}

// Attach 将一条已建立的连接注册到 session，返回注销函数。
// 注销函数是幂等的，连接由调用方负责读取与关闭握手。
func (h *WebSocketHub) Attach(sessionID string, conn *websocket.Conn) (detach func(), err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("websocket hub closed")
	}

	c := &wsConn{conn: conn}
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*wsConn]struct{})
	}
	h.sessions[sessionID][c] = struct{}{}

	h.logger.Debug("websocket attached", zap.String("session_id", sessionID))

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(sessionID, c) })
	}, nil
}

// StreamHumanPrompt 实现 Transport。
func (h *WebSocketHub) StreamHumanPrompt(ctx context.Context, sessionID string, event PromptEvent) error {
	return h.broadcast(ctx, sessionID, wsEnvelope{
		Event:     "human_prompt",
		SessionID: sessionID,
		Data:      event,
	})
}

// StreamHumanResponse 实现 Transport。
func (h *WebSocketHub) StreamHumanResponse(ctx context.Context, sessionID string, event ResponseEvent) error {
	return h.broadcast(ctx, sessionID, wsEnvelope{
		Event:     "human_response",
		SessionID: sessionID,
		Data:      event,
	})
}

// SessionSubscribers 返回 session 当前的订阅者数量。
func (h *WebSocketHub) SessionSubscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close 关闭所有连接并拒绝后续 Attach。
func (h *WebSocketHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for sessionID, conns := range h.sessions {
		for c := range conns {
			_ = c.conn.Close(websocket.StatusGoingAway, "hub shutting down")
		}
		delete(h.sessions, sessionID)
	}
	return nil
}

func (h *WebSocketHub) broadcast(ctx context.Context, sessionID string, env wsEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Event, err)
	}

	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		// 没有订阅者不是错误：事件是尽力推送的
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	var failed int
	for _, c := range conns {
		if werr := c.write(writeCtx, data); werr != nil {
			failed++
			h.logger.Warn("websocket write failed, dropping subscriber",
				zap.String("session_id", sessionID),
				zap.String("event", env.Event),
				zap.Error(werr),
			)
			h.remove(sessionID, c)
			_ = c.conn.Close(websocket.StatusInternalError, "write failed")
		}
	}
	if failed == len(conns) {
		return fmt.Errorf("all %d subscriber(s) failed for session %s", failed, sessionID)
	}
	return nil
}

func (h *WebSocketHub) remove(sessionID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[sessionID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}
