package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/yuechen/ai-roleplay/backend/internal/model/chat"
	"github.com/yuechen/ai-roleplay/backend/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "socrates")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected non-empty session ID")
	}

	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.PersonaSlug != "socrates" {
		t.Fatalf("unexpected persona slug: %q", got.PersonaSlug)
	}
	if got.Summary != "" {
		t.Fatalf("fresh session should have empty summary, got %q", got.Summary)
	}

	second, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if second.ID == session.ID {
		t.Fatal("session identifiers must be unique")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openStore(t)

	if _, err := s.GetSession(context.Background(), "missing"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecentMessagesChronologicalSuffix(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	var full []string
	for i := 0; i < 10; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		content := fmt.Sprintf("msg-%02d", i)
		full = append(full, content)
		if err := s.AppendMessage(ctx, session.ID, role, content); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	turns, err := s.RecentMessages(ctx, session.ID, 4)
	if err != nil {
		t.Fatalf("RecentMessages err: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}

	// Must be the suffix of the full history, oldest first.
	for i, turn := range turns {
		want := full[len(full)-4+i]
		if turn.Content != want {
			t.Fatalf("turn %d = %q, want %q", i, turn.Content, want)
		}
	}

	all, err := s.RecentMessages(ctx, session.ID, 100)
	if err != nil {
		t.Fatalf("RecentMessages err: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("expected full history of 10, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Content > all[i].Content {
			t.Fatalf("history out of order at %d: %q > %q", i, all[i-1].Content, all[i].Content)
		}
	}
}

func TestRecentMessagesEmptySession(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	turns, err := s.RecentMessages(ctx, session.ID, 30)
	if err != nil {
		t.Fatalf("RecentMessages err: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty history, got %d turns", len(turns))
	}
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if err := s.AppendMessage(ctx, session.ID, chat.Role("moderator"), "hi"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestCountMessages(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	count, err := s.CountMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("CountMessages err: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}

	if err := s.AppendMessage(ctx, session.ID, chat.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}
	count, err = s.CountMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("CountMessages err: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
}

func TestSetSummary(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if err := s.SetSummary(ctx, session.ID, "一段摘要"); err != nil {
		t.Fatalf("SetSummary err: %v", err)
	}

	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.Summary != "一段摘要" {
		t.Fatalf("unexpected summary: %q", got.Summary)
	}

	if err := s.SetSummary(ctx, "missing", "x"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSaveAndLoadPersonas(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.SavePersona(ctx, "custom-1", `{"name":"甲"}`); err != nil {
		t.Fatalf("SavePersona err: %v", err)
	}
	if err := s.SavePersona(ctx, "custom-1", `{"name":"乙"}`); err != nil {
		t.Fatalf("SavePersona overwrite err: %v", err)
	}
	if err := s.SavePersona(ctx, "custom-2", `{"name":"丙"}`); err != nil {
		t.Fatalf("SavePersona err: %v", err)
	}

	records, err := s.LoadPersonas(ctx)
	if err != nil {
		t.Fatalf("LoadPersonas err: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records["custom-1"] != `{"name":"乙"}` {
		t.Fatalf("overwrite not reflected: %s", records["custom-1"])
	}
}
