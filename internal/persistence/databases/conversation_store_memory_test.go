package databases

import (
	"context"
	"testing"

	"weavechat/internal/persistence"
)

func TestMemoryConversationStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()

	uid := int64(7)
	conv, err := s.CreateConversation(ctx, &uid, "hello")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected non-empty conversation ID")
	}

	got, err := s.GetConversation(ctx, &uid, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "hello" {
		t.Fatalf("expected title %q, got %q", "hello", got.Title)
	}

	other := int64(8)
	if _, err := s.GetConversation(ctx, &other, conv.ID); err != persistence.ErrForbidden {
		t.Fatalf("expected ErrForbidden for mismatched user, got %v", err)
	}

	list, err := s.ListConversations(ctx, &uid)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(list))
	}
}

func TestMemoryConversationStore_GetConversation_NotFound(t *testing.T) {
	s := NewMemoryConversationStore()
	if _, err := s.GetConversation(context.Background(), nil, "missing"); err != persistence.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryConversationStore_SaveMessages_AssignsTitleAndReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	conv, err := s.CreateConversation(ctx, nil, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msgs := []persistence.Message{
		{ConversationID: conv.ID, Sequence: 0, Role: persistence.RoleUser, Content: "what is the weather"},
		{ConversationID: conv.ID, Sequence: 1, Role: persistence.RoleAssistant, Content: "sunny"},
	}
	updated, err := s.SaveMessages(ctx, nil, conv.ID, msgs)
	if err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	if updated.Title != "what is the weather" {
		t.Fatalf("expected auto-assigned title, got %q", updated.Title)
	}

	listed, err := s.ListMessages(ctx, nil, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(listed))
	}

	// Replacing with a shorter sequence drops the old messages entirely.
	replacement := []persistence.Message{
		{ConversationID: conv.ID, Sequence: 0, Role: persistence.RoleUser, Content: "new question"},
	}
	if _, err := s.SaveMessages(ctx, nil, conv.ID, replacement); err != nil {
		t.Fatalf("SaveMessages replacement: %v", err)
	}
	listed, err = s.ListMessages(ctx, nil, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages after replace: %v", err)
	}
	if len(listed) != 1 || listed[0].Content != "new question" {
		t.Fatalf("expected replaced message list, got %+v", listed)
	}
}

func TestMemoryConversationStore_EnsureConversation_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	uid := int64(1)

	first, err := s.EnsureConversation(ctx, &uid, "fixed-id", "title")
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	second, err := s.EnsureConversation(ctx, &uid, "fixed-id", "different title")
	if err != nil {
		t.Fatalf("EnsureConversation (repeat): %v", err)
	}
	if first.ID != second.ID || second.Title != "title" {
		t.Fatalf("expected idempotent ensure to keep original title, got %+v", second)
	}
}

func TestMemoryConversationStore_DeleteConversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	conv, _ := s.CreateConversation(ctx, nil, "x")
	if err := s.DeleteConversation(ctx, nil, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetConversation(ctx, nil, conv.ID); err != persistence.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
