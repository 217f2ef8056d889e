package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/yuechen/ai-roleplay/backend/internal/handler/chat"
	personahandler "github.com/yuechen/ai-roleplay/backend/internal/handler/persona"
	speechhandler "github.com/yuechen/ai-roleplay/backend/internal/handler/speech"
	middlewarePkg "github.com/yuechen/ai-roleplay/backend/internal/middleware"
	personamodel "github.com/yuechen/ai-roleplay/backend/internal/model/persona"
	chatservice "github.com/yuechen/ai-roleplay/backend/internal/service/chat"
	"github.com/yuechen/ai-roleplay/backend/pkg/utils"
)

// Deps 汇总路由所需的服务；speech 相关项可为 nil（凭证未配置时降级）。
type Deps struct {
	Registry *personamodel.Registry
	Pipeline *chatservice.Service
	Relay    speechhandler.Synthesizer
	Issuer   speechhandler.TokenIssuer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "ai-roleplay-backend",
		})
	})

	r.Route("/api", func(api chi.Router) {
		personahandler.New(deps.Registry).RegisterRoutes(api)
		chathandler.New(deps.Pipeline).RegisterRoutes(api)

		if deps.Relay != nil && deps.Issuer != nil {
			speechhandler.New(deps.Relay, deps.Issuer).RegisterRoutes(api)
		} else {
			api.Post("/voice/tts", speechUnavailable)
			api.Get("/isi/token", speechUnavailable)
		}
	})

	return r
}

func speechUnavailable(w http.ResponseWriter, _ *http.Request) {
	utils.RespondError(w, http.StatusServiceUnavailable, "speech relay unavailable")
}
