package speech

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	speechsvc "github.com/yuechen/ai-roleplay/backend/internal/service/speech"
	"github.com/yuechen/ai-roleplay/backend/pkg/utils"
)

// Synthesizer 抽象语音中继，便于测试与替换实现。
type Synthesizer interface {
	Synthesize(ctx context.Context, req speechsvc.Request) (<-chan []byte, error)
}

// TokenIssuer 抽象凭证签发。
type TokenIssuer interface {
	Token(ctx context.Context) (speechsvc.Token, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	relay  Synthesizer
	issuer TokenIssuer
}

// New 创建语音处理器
func New(relay Synthesizer, issuer TokenIssuer) *Handler {
	return &Handler{relay: relay, issuer: issuer}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/voice/tts", h.handleSynthesize)
	r.Get("/isi/token", h.handleToken)
}

// handleToken 签发（或复用缓存的）语音凭证，前端可在过期前重复使用。
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.issuer.Token(r.Context())
	if err != nil {
		log.Printf("[speech] token issuance failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, token)
}

// handleSynthesize 将合成音频以分块方式转发为HTTP响应体。
// 流开始后出现的上游故障只会让响应体提前结束，状态码无法再改变。
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req speechsvc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chunks, err := h.relay.Synthesize(r.Context(), req)
	if err != nil {
		if errors.Is(err, speechsvc.ErrEmptyText) {
			utils.RespondError(w, http.StatusBadRequest, "text 不能为空")
			return
		}
		log.Printf("[speech] synthesis failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}

	format := strings.TrimSpace(req.Format)
	if format == "" {
		format = "mp3"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			log.Printf("[speech] client write failed: %v", err)
			// 读尽通道以保证中继侧连接被释放。
			for range chunks {
			}
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
