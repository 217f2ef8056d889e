package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/yuechen/ai-roleplay/backend/internal/service/chat"
	"github.com/yuechen/ai-roleplay/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	pipeline *chatservice.Service
}

// New 创建聊天处理器
func New(pipeline *chatservice.Service) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/chat", h.handleChat)
	r.Get("/session/{sessionID}/messages", h.handleHistory)
}

// handleCreateSession 创建会话；personaSlug 可为空，回合时落到默认人格。
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaSlug string `json:"personaSlug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.pipeline.CreateSession(r.Context(), payload.PersonaSlug)
	if err != nil {
		log.Printf("[chat] create session failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": session.ID})
}

// handleHistory 返回会话最近的消息，旧到新排列。
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	turns, err := h.pipeline.History(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "会话不存在")
			return
		}
		log.Printf("[chat] load history failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": turns})
}

// handleChat 执行一个聊天回合，以SSE增量转发模型输出。
// 流式开始前的错误以结构化JSON返回；开始后折叠为流内 error 帧。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID   string `json:"sessionId"`
		UserMessage string `json:"userMessage"`
		PersonaSlug string `json:"personaSlug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := h.pipeline.RunTurn(r.Context(), payload.SessionID, payload.PersonaSlug, payload.UserMessage)
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "会话不存在")
		case errors.Is(err, chatservice.ErrEmptyMessage):
			utils.RespondError(w, http.StatusBadRequest, "userMessage 不能为空")
		default:
			log.Printf("[chat] turn setup failed for session=%s: %v", payload.SessionID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to start turn")
		}
		return
	}

	utils.SetupSSEHeaders(w)
	flusher.Flush()

	for event := range events {
		switch {
		case event.Err != nil:
			utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": event.Err.Error()})
		case event.Done:
			utils.SendSSEChunk(w, flusher, map[string]bool{"done": true})
		default:
			utils.SendSSEChunk(w, flusher, map[string]string{"delta": event.Delta})
		}
	}
}
