package persona

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	personamodel "github.com/yuechen/ai-roleplay/backend/internal/model/persona"
	"github.com/yuechen/ai-roleplay/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	registry *personamodel.Registry
}

// New 创建persona处理器
func New(registry *personamodel.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleList)
	r.Post("/persona/custom", h.handleUpsertCustom)
	r.Get("/persona/custom", h.handleListCustom)
	r.Get("/meta/categories", h.handleTaxonomy)
}

// handleList 返回内置与自定义人格的合集。
func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.registry.List())
}

// handleUpsertCustom 创建或覆盖自定义人格。镜像引用原样保存，
// 不做解码或转存。
func (h *Handler) handleUpsertCustom(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Persona      personamodel.Persona `json:"persona"`
		ImageDataURL string               `json:"image_data_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	slug, err := h.registry.Upsert(r.Context(), payload.Persona, payload.ImageDataURL)
	if err != nil {
		log.Printf("[persona] upsert failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save persona")
		return
	}

	saved := h.registry.Resolve(slug)
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"slug": slug,
		"name": saved.Name,
		"file": saved.Image,
	})
}

// handleListCustom 列出全部自定义人格。
func (h *Handler) handleListCustom(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.registry.ListCustom())
}

// handleTaxonomy 返回分类到标签集合的映射，按字典序去重排序。
func (h *Handler) handleTaxonomy(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.registry.Taxonomy())
}
