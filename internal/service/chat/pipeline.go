// Package chat orchestrates one chat turn: durable user-message logging,
// context-window assembly, incremental relay of the provider stream and
// finalization of the assistant message.
package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/yuechen/ai-roleplay/backend/internal/model/chat"
	"github.com/yuechen/ai-roleplay/backend/internal/model/persona"
	"github.com/yuechen/ai-roleplay/backend/internal/store"
)

var (
	ErrSessionNotFound = store.ErrSessionNotFound
	ErrEmptyMessage    = errors.New("user message is empty")
)

// Event is one frame of a turn's incremental output. Exactly one Done event
// terminates every stream; an Err event, when present, precedes it.
type Event struct {
	Delta string
	Err   error
	Done  bool
}

// Completer streams completion fragments for an assembled prompt and owns
// the rendered-instruction cache. *ai.Service satisfies this; tests plug in
// fakes.
type Completer interface {
	Stream(ctx context.Context, system string, history []*schema.Message, query string) (*schema.StreamReader[*schema.Message], error)
	SystemPrompt(p persona.Persona) string
}

// Store is the durability contract the pipeline relies on.
type Store interface {
	CreateSession(ctx context.Context, personaSlug string) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error)
}

// Service 驱动聊天回合。并发回合之间不做会话级互斥：同一会话上的两个并发
// 回合可能交错落库，这是有意接受的限制（存储层保证单条写入原子、按序可读）。
type Service struct {
	store     Store
	registry  *persona.Registry
	completer Completer
	window    int
}

// NewService wires the pipeline. window bounds how many prior messages are
// included in each prompt.
func NewService(st Store, registry *persona.Registry, completer Completer, window int) *Service {
	if window <= 0 {
		window = 30
	}
	return &Service{
		store:     st,
		registry:  registry,
		completer: completer,
		window:    window,
	}
}

// CreateSession provisions a session; an empty personaSlug binds the
// default persona at resolve time.
func (s *Service) CreateSession(ctx context.Context, personaSlug string) (chat.Session, error) {
	return s.store.CreateSession(ctx, personaSlug)
}

// History 返回会话最近的消息，供前端重载会话时使用。
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.window
	}
	return s.store.RecentMessages(ctx, sessionID, limit)
}

// RunTurn executes one turn. Errors before any streaming (unknown session,
// blank text, failed user append) are returned directly and produce no
// events; validation failures leave the store untouched. Once the returned
// channel exists the transport has committed to a stream, so later provider
// failures surface as an in-band Err event followed by the terminal Done.
//
// The user message is appended durably before the provider is invoked, so
// an interrupted turn still shows the user's input in history. The recent
// window is fetched before that append: prompt = system instruction + at
// most window prior turns + the current user turn exactly once.
func (s *Service) RunTurn(ctx context.Context, sessionID, personaSlug, userText string) (<-chan Event, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyMessage
	}

	recent, err := s.store.RecentMessages(ctx, sessionID, s.window)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendMessage(ctx, sessionID, chat.RoleUser, userText); err != nil {
		return nil, err
	}

	if personaSlug == "" {
		personaSlug = session.PersonaSlug
	}
	system := s.completer.SystemPrompt(s.registry.Resolve(personaSlug))

	events := make(chan Event)
	go s.streamTurn(ctx, events, sessionID, system, buildHistory(recent), userText)
	return events, nil
}

// streamTurn relays provider fragments into the event channel and finalizes
// the assistant message. Emission is flow-controlled by the receiver; only
// the running accumulator is buffered.
func (s *Service) streamTurn(ctx context.Context, events chan<- Event, sessionID, system string, history []*schema.Message, userText string) {
	defer close(events)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var accumulated strings.Builder

	stream, err := s.completer.Stream(ctx, system, history, userText)
	if err != nil {
		emit(Event{Err: err})
	} else {
		func() {
			defer stream.Close()
			for {
				chunk, recvErr := stream.Recv()
				if errors.Is(recvErr, io.EOF) {
					return
				}
				if recvErr != nil {
					emit(Event{Err: recvErr})
					return
				}
				if chunk == nil || chunk.Content == "" {
					continue
				}
				accumulated.WriteString(chunk.Content)
				if !emit(Event{Delta: chunk.Content}) {
					return
				}
			}
		}()
	}

	// Terminal frame on every path, success or failure.
	emit(Event{Done: true})

	// Persist whatever was produced even if the caller has disconnected.
	content := strings.TrimSpace(accumulated.String())
	if content == "" {
		return
	}
	if err := s.store.AppendMessage(context.WithoutCancel(ctx), sessionID, chat.RoleAssistant, content); err != nil {
		log.Printf("[chat] failed to save assistant message for session=%s: %v", sessionID, err)
	}
}

// buildHistory 将最近窗口转换为模型消息，仅保留 user/assistant 两种角色。
func buildHistory(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
