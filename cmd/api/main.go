package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yuechen/ai-roleplay/backend/internal/config"
	"github.com/yuechen/ai-roleplay/backend/internal/handler"
	personamodel "github.com/yuechen/ai-roleplay/backend/internal/model/persona"
	"github.com/yuechen/ai-roleplay/backend/internal/service/ai"
	chatservice "github.com/yuechen/ai-roleplay/backend/internal/service/chat"
	speechservice "github.com/yuechen/ai-roleplay/backend/internal/service/speech"
	"github.com/yuechen/ai-roleplay/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if dir := filepath.Dir(cfg.DB.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create data directory: %v", err)
		}
	}

	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	records, err := st.LoadPersonas(ctx)
	if err != nil {
		log.Fatalf("failed to load custom personas: %v", err)
	}
	registry := personamodel.NewRegistry(personamodel.Builtins(), records, st)

	if !cfg.AI.Enabled() {
		log.Fatal("缺少 DASHSCOPE_API_KEY，请在 .env 或系统变量中设置")
	}
	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	registry.SetInvalidator(aiService)

	pipeline := chatservice.NewService(st, registry, aiService, cfg.AI.MaxContext)

	deps := handler.Deps{
		Registry: registry,
		Pipeline: pipeline,
	}
	if cfg.Speech.Enabled() {
		issuer := speechservice.NewTokenIssuer(cfg.Speech)
		deps.Issuer = issuer
		deps.Relay = speechservice.NewRelay(cfg.Speech, issuer)
		log.Println("Speech relay initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	startServer(ctx, cfg.Server, handler.NewRouter(deps))
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("AI roleplay backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
