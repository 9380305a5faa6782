package handlers

import (
	"net/http"

	"github.com/BaSui01/humanloop/transport"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 WebSocket 事件订阅 Handler
// =============================================================================

// StreamHandler 将 HTTP 连接升级为 WebSocket 并注册到推送中心。
// 订阅者收到该 session 的 human_prompt / human_response 事件流。
type StreamHandler struct {
	hub    *transport.WebSocketHub
	logger *zap.Logger
}

// NewStreamHandler 创建 WebSocket 订阅处理器
func NewStreamHandler(hub *transport.WebSocketHub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		logger: logger.With(zap.String("component", "stream_handler")),
	}
}

// HandleSubscribe 处理 GET /api/v1/sessions/{session}/events
func (h *StreamHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}

	detach, err := h.hub.Attach(sessionID, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "hub unavailable")
		return
	}
	defer detach()

	h.logger.Info("event subscriber connected", zap.String("session_id", sessionID))

	// 订阅通道是单向下行的：持续读取只为感知客户端断开，
	// 收到的消息一律丢弃。
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("event subscriber disconnected", zap.String("session_id", sessionID))
}
