package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/humanloop/hitl"
	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🙋 交互生命周期 Handler
// =============================================================================

// maxWaitTimeout 限制长轮询等待的上限，避免连接被无限占用
const maxWaitTimeout = 5 * time.Minute

// InteractionHandler 交互生命周期处理器
type InteractionHandler struct {
	engine *hitl.Engine
	logger *zap.Logger
}

// NewInteractionHandler 创建交互处理器
func NewInteractionHandler(engine *hitl.Engine, logger *zap.Logger) *InteractionHandler {
	return &InteractionHandler{
		engine: engine,
		logger: logger.With(zap.String("component", "interaction_handler")),
	}
}

// createRequest 创建交互的请求体
type createRequest struct {
	Type    hitl.InteractionType    `json:"type"`
	Prompt  string                  `json:"prompt"`
	Options hitl.InteractionOptions `json:"options"`
}

// respondRequest 响应交互的请求体
type respondRequest struct {
	Response any            `json:"response"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HandleCreate 处理 POST /api/v1/sessions/{session}/interactions
func (h *InteractionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	var req createRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	id, err := h.engine.CreateInteraction(r.Context(), sessionID, hitl.Request{
		Type:    req.Type,
		Prompt:  req.Prompt,
		Options: req.Options,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      map[string]string{"interaction_id": id},
		Timestamp: time.Now(),
	})
}

// HandleGet 处理 GET /api/v1/interactions/{id}
func (h *InteractionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	in, err := h.engine.GetInteraction(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, in)
}

// HandleRespond 处理 POST /api/v1/interactions/{id}/response
func (h *InteractionHandler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req respondRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.engine.RespondToInteraction(r.Context(), id, req.Response, req.Metadata); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	in, err := h.engine.GetInteraction(id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, in)
}

// HandleCancel 处理 POST /api/v1/interactions/{id}/cancel
func (h *InteractionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.CancelInteraction(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"interaction_id": id, "status": string(hitl.StatusCancelled)})
}

// HandleWait 处理 GET /api/v1/interactions/{id}/wait（长轮询）
//
// 可选的 timeout 查询参数（如 "30s"）限制本次等待时长，上限 5 分钟。
// 交互以 timeout/cancelled 终态解决时返回对应的错误码，由客户端区分。
func (h *InteractionHandler) HandleWait(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ctx := r.Context()
	wait := maxWaitTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"timeout must be a positive duration such as 30s", h.logger)
			return
		}
		wait = min(d, maxWaitTimeout)
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	value, err := h.engine.WaitForResponse(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// 本次轮询到期而交互仍未解决：客户端应重试
			WriteErrorMessage(w, http.StatusRequestTimeout, types.ErrInteractionTimeout,
				"wait timed out, interaction still open", h.logger)
			return
		}
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]any{"interaction_id": id, "response": value})
}

// HandleSessionInteractions 处理 GET /api/v1/sessions/{session}/interactions
func (h *InteractionHandler) HandleSessionInteractions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	interactions := h.engine.GetSessionInteractions(sessionID)
	WriteSuccess(w, map[string]any{
		"session_id":   sessionID,
		"interactions": interactions,
	})
}

// HandleStats 处理 GET /api/v1/interactions/stats
func (h *InteractionHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.GetStatistics())
}

// HandleHistory 处理 GET /api/v1/sessions/{session}/history
func (h *InteractionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	records, err := h.engine.GetInteractionHistory(r.Context(), sessionID, limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"session_id": sessionID,
		"records":    records,
	})
}

// HandleExport 处理 POST /api/v1/interactions/export
func (h *InteractionHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var filter persistence.Filter
	if err := DecodeJSONBody(w, r, &filter, h.logger); err != nil {
		return
	}

	records, err := h.engine.ExportInteractionData(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// autoApprovalRequest 自动审批预检请求体
type autoApprovalRequest struct {
	Prompt  string                  `json:"prompt"`
	Options hitl.InteractionOptions `json:"options"`
	Context map[string]any          `json:"context,omitempty"`
}

// HandleAutoApprovalCheck 处理 POST /api/v1/auto-approval/check
//
// 只评估规则，不创建交互。调用方可据此决定是否跳过人工环节。
func (h *InteractionHandler) HandleAutoApprovalCheck(w http.ResponseWriter, r *http.Request) {
	var req autoApprovalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	decision := h.engine.CheckAutoApproval(req.Prompt, req.Options, req.Context)
	WriteSuccess(w, decision)
}
