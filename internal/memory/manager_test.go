package memory

import (
	"context"
	"testing"
	"time"

	"weavechat/internal/llm"
	"weavechat/internal/persistence"
	"weavechat/internal/persistence/databases"
)

type stubLLM struct {
	response string
	lastMsgs []llm.Message
}

func (s *stubLLM) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	s.lastMsgs = append([]llm.Message(nil), msgs...)
	return llm.Message{Role: "assistant", Content: s.response}, nil
}

func (s *stubLLM) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func seedConversation(t *testing.T, store persistence.ConversationStore, id string, n int) []persistence.Message {
	t.Helper()
	ctx := context.Background()
	if _, err := store.EnsureConversation(ctx, nil, id, ""); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	msgs := make([]persistence.Message, 0, n)
	for i := 0; i < n; i++ {
		role := persistence.RoleUser
		if i%2 == 1 {
			role = persistence.RoleAssistant
		}
		msgs = append(msgs, persistence.Message{
			ConversationID: id,
			Sequence:       i,
			Role:           role,
			Content:        role,
			CreatedAt:      time.Now().UTC(),
		})
	}
	if _, err := store.SaveMessages(ctx, nil, id, msgs); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	return msgs
}

func TestTrigger_NoopBelowSummarizeAfterSeq(t *testing.T) {
	ctx := context.Background()
	conv := databases.NewMemoryConversationStore()
	mem := databases.NewMemoryMemoryStore()
	llmStub := &stubLLM{response: "summary"}
	m := NewManager(conv, mem, llmStub, Config{Enabled: true, RollingWindowSize: 14, SummarizeAfterSeq: 5})

	seedConversation(t, conv, "c1", 4)
	id, err := m.Trigger(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no-op trigger below summarize_after_seq, got memory id %q", id)
	}
}

func TestTrigger_NoopWhenAlreadyProcessing(t *testing.T) {
	ctx := context.Background()
	conv := databases.NewMemoryConversationStore()
	mem := databases.NewMemoryMemoryStore()
	llmStub := &stubLLM{response: "summary"}
	m := NewManager(conv, mem, llmStub, Config{Enabled: true, RollingWindowSize: 14, SummarizeAfterSeq: 5})

	seedConversation(t, conv, "c1", 18)
	if _, err := mem.BeginProcessing(ctx, persistence.MemoryRecord{ConversationID: "c1", StartSequence: 0, EndSequence: 9}); err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}

	id, err := m.Trigger(ctx, "c1", 17)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no-op trigger while a processing record exists, got %q", id)
	}
}

func TestTrigger_WindowAlignmentAndBaseChain(t *testing.T) {
	// Scenario 5 from the spec: 16 pre-seeded messages (seq 0..15), 9th round
	// triggers at assistant seq 17. Expect start = max(0, 17-14+1) = 4 (already
	// even), end = 17, and base_memory_id referencing the prior completed memory.
	ctx := context.Background()
	conv := databases.NewMemoryConversationStore()
	mem := databases.NewMemoryMemoryStore()
	llmStub := &stubLLM{response: "rolled-up summary"}
	m := NewManager(conv, mem, llmStub, Config{Enabled: true, RollingWindowSize: 14, SummarizeAfterSeq: 5})

	seedConversation(t, conv, "c1", 18)

	baseID, err := mem.BeginProcessing(ctx, persistence.MemoryRecord{ConversationID: "c1", StartSequence: 0, EndSequence: 9})
	if err != nil {
		t.Fatalf("BeginProcessing (seed base): %v", err)
	}
	if err := mem.CompleteProcessing(ctx, baseID, "earlier summary", 5); err != nil {
		t.Fatalf("CompleteProcessing (seed base): %v", err)
	}

	id, err := m.Trigger(ctx, "c1", 17)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if id == "" {
		t.Fatal("expected a new memory id")
	}

	deadline := time.Now().Add(2 * time.Second)
	var latest persistence.MemoryRecord
	for time.Now().Before(deadline) {
		rec, ok, err := mem.LatestCompleted(ctx, "c1")
		if err != nil {
			t.Fatalf("LatestCompleted: %v", err)
		}
		if ok && rec.ID == id {
			latest = rec
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if latest.ID != id {
		t.Fatalf("expected background summarization to complete memory %q", id)
	}
	if latest.StartSequence != 4 {
		t.Fatalf("expected aligned start_sequence 4, got %d", latest.StartSequence)
	}
	if latest.EndSequence != 17 {
		t.Fatalf("expected end_sequence 17, got %d", latest.EndSequence)
	}
	if latest.BaseMemoryID == nil || *latest.BaseMemoryID != baseID {
		t.Fatalf("expected base_memory_id to reference %q, got %v", baseID, latest.BaseMemoryID)
	}
	if latest.MemoryText != "rolled-up summary" {
		t.Fatalf("unexpected memory text: %q", latest.MemoryText)
	}
}

func TestRead_NoCompletedMemory_ReturnsAllButLastMessage(t *testing.T) {
	ctx := context.Background()
	conv := databases.NewMemoryConversationStore()
	mem := databases.NewMemoryMemoryStore()
	m := NewManager(conv, mem, &stubLLM{}, Config{Enabled: true})

	messages := seedConversation(t, conv, "c1", 5)
	out, err := m.Read(ctx, "c1", messages)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.MemoryText != "" {
		t.Fatalf("expected no memory text, got %q", out.MemoryText)
	}
	if len(out.GapMessages) != 4 {
		t.Fatalf("expected 4 gap messages (all but the last), got %d", len(out.GapMessages))
	}
}

func TestRead_WithCompletedMemory_ReturnsGapAfterWindow(t *testing.T) {
	ctx := context.Background()
	conv := databases.NewMemoryConversationStore()
	mem := databases.NewMemoryMemoryStore()
	m := NewManager(conv, mem, &stubLLM{}, Config{Enabled: true})

	messages := seedConversation(t, conv, "c1", 8)

	id, err := mem.BeginProcessing(ctx, persistence.MemoryRecord{ConversationID: "c1", StartSequence: 0, EndSequence: 3})
	if err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}
	if err := mem.CompleteProcessing(ctx, id, "covers 0..3", 1); err != nil {
		t.Fatalf("CompleteProcessing: %v", err)
	}

	out, err := m.Read(ctx, "c1", messages)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.MemoryText != "covers 0..3" {
		t.Fatalf("expected memory text from completed record, got %q", out.MemoryText)
	}
	// messages has 8 entries (seq 0..7); exclude the last (seq 7, the just-posted
	// user message) and everything already covered by the memory (seq 0..3).
	if len(out.GapMessages) != 3 {
		t.Fatalf("expected gap messages for seq 4..6, got %d: %+v", len(out.GapMessages), out.GapMessages)
	}
	for i, msg := range out.GapMessages {
		if msg.Sequence != 4+i {
			t.Fatalf("expected gap message %d to have sequence %d, got %d", i, 4+i, msg.Sequence)
		}
	}
}
