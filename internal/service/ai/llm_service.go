// Package ai wraps the eino chat chain used for completion streaming.
package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/yuechen/ai-roleplay/backend/internal/config"
	"github.com/yuechen/ai-roleplay/backend/internal/model/persona"
)

// Service encapsulates the completion provider behind a compiled chain:
// system instruction, bounded history, then the current user turn.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]

	mu          sync.Mutex
	promptCache map[string]string
}

// NewService creates the AI service against the configured provider.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel:   chatModel,
		cfg:         cfg,
		chain:       runnable,
		promptCache: make(map[string]string),
	}, nil
}

// Stream runs the chain in streaming mode. Fragments arrive in provider
// order; the reader honors ctx cancellation.
func (s *Service) Stream(ctx context.Context, system string, history []*schema.Message, query string) (*schema.StreamReader[*schema.Message], error) {
	input := map[string]any{
		"system":  system,
		"history": history,
		"query":   query,
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream chain output: %w", err)
	}
	return stream, nil
}

// Generate runs the chain without streaming, for callers that want the full
// completion in one piece.
func (s *Service) Generate(ctx context.Context, system string, history []*schema.Message, query string) (*schema.Message, error) {
	input := map[string]any{
		"system":  system,
		"history": history,
		"query":   query,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run chain: %w", err)
	}
	return response, nil
}

// SystemPrompt returns the persona's instruction, rendering and caching it
// when the record carries none precomputed.
func (s *Service) SystemPrompt(p persona.Persona) string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.promptCache[p.Slug]; ok {
		return cached
	}

	rendered := persona.Render(p, "", "")
	if p.Slug != "" {
		s.promptCache[p.Slug] = rendered
	}
	return rendered
}

// InvalidatePersona drops the cached prompt after a custom persona upsert.
// Satisfies persona.Invalidator.
func (s *Service) InvalidatePersona(slug string) {
	s.mu.Lock()
	delete(s.promptCache, slug)
	s.mu.Unlock()
}
