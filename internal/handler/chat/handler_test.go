package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	chathandler "github.com/yuechen/ai-roleplay/backend/internal/handler/chat"
	"github.com/yuechen/ai-roleplay/backend/internal/model/persona"
	chatservice "github.com/yuechen/ai-roleplay/backend/internal/service/chat"
	"github.com/yuechen/ai-roleplay/backend/internal/store"
)

type fakeCompleter struct {
	fragments []string
	streamErr error
}

func (f *fakeCompleter) Stream(context.Context, string, []*schema.Message, string) (*schema.StreamReader[*schema.Message], error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	sr, sw := schema.Pipe[*schema.Message](len(f.fragments))
	go func() {
		defer sw.Close()
		for _, fragment := range f.fragments {
			sw.Send(schema.AssistantMessage(fragment, nil), nil)
		}
	}()
	return sr, nil
}

func (f *fakeCompleter) SystemPrompt(p persona.Persona) string { return p.SystemPrompt }

func newRouter(t *testing.T, completer chatservice.Completer) chi.Router {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := persona.NewRegistry(persona.Builtins(), nil, st)
	pipeline := chatservice.NewService(st, registry, completer, 30)

	router := chi.NewRouter()
	chathandler.New(pipeline).RegisterRoutes(router)
	return router
}

func createSession(t *testing.T, router chi.Router) string {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"personaSlug":""}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("create session status %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	if payload.SessionID == "" {
		t.Fatal("empty sessionId")
	}
	return payload.SessionID
}

func TestChatStreamsDeltasThenDone(t *testing.T) {
	router := newRouter(t, &fakeCompleter{fragments: []string{"你", "好"}})
	sessionID := createSession(t, router)

	rec := httptest.NewRecorder()
	body := `{"sessionId":"` + sessionID + `","userMessage":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	raw := rec.Body.String()
	wantOrder := []string{
		`data: {"delta":"你"}`,
		`data: {"delta":"好"}`,
		`data: {"done":true}`,
	}
	last := -1
	for _, want := range wantOrder {
		idx := strings.Index(raw, want)
		if idx == -1 {
			t.Fatalf("missing SSE frame %q in:\n%s", want, raw)
		}
		if idx < last {
			t.Fatalf("SSE frame %q out of order in:\n%s", want, raw)
		}
		last = idx
	}
	if strings.Count(raw, `"done":true`) != 1 {
		t.Fatalf("done must appear exactly once:\n%s", raw)
	}
}

func TestChatProviderErrorAsSSEEvent(t *testing.T) {
	router := newRouter(t, &fakeCompleter{streamErr: errors.New("upstream down")})
	sessionID := createSession(t, router)

	rec := httptest.NewRecorder()
	body := `{"sessionId":"` + sessionID + `","userMessage":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	// 流已开始，错误只能折叠进流内。
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	raw := rec.Body.String()
	if !strings.Contains(raw, "event: error") || !strings.Contains(raw, `"error":"upstream down"`) {
		t.Fatalf("expected in-stream error frame:\n%s", raw)
	}
	if !strings.Contains(raw, `"done":true`) {
		t.Fatalf("stream must still terminate with done:\n%s", raw)
	}
}

func TestChatUnknownSession(t *testing.T) {
	router := newRouter(t, &fakeCompleter{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"sessionId":"missing","userMessage":"hi"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "会话不存在") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestChatBlankMessage(t *testing.T) {
	router := newRouter(t, &fakeCompleter{})
	sessionID := createSession(t, router)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"sessionId":"`+sessionID+`","userMessage":"  "}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestChatMalformedBody(t *testing.T) {
	router := newRouter(t, &fakeCompleter{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	router := newRouter(t, &fakeCompleter{fragments: []string{"回答"}})
	sessionID := createSession(t, router)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"sessionId":"`+sessionID+`","userMessage":"问题"}`))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/session/"+sessionID+"/messages", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("history status %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(payload.Messages) < 1 || payload.Messages[0].Role != "user" || payload.Messages[0].Content != "问题" {
		t.Fatalf("unexpected history: %+v", payload.Messages)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/session/missing/messages", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session history status %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/session/"+sessionID+"/messages?limit=abc", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status %d, want 400", rec.Code)
	}
}
