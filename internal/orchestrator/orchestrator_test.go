package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"weavechat/internal/eventbus"
	"weavechat/internal/llm"
	"weavechat/internal/memory"
	"weavechat/internal/persistence"
	"weavechat/internal/persistence/databases"
	"weavechat/internal/workflow/dynamic"
	"weavechat/internal/workflow/triage"
)

type stubProvider struct {
	chatResponse string
}

func (s *stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: s.chatResponse}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func newTestOrchestrator(t *testing.T, classifierResponse string) (*Orchestrator, persistence.ConversationStore) {
	t.Helper()
	store := databases.NewMemoryConversationStore()
	classifier := &stubProvider{chatResponse: classifierResponse}

	o := New(Config{
		Conversations: store,
		Memory:        nil, // exercises the memory-disabled path
		Triage: triage.Config{
			Classifier:      classifier,
			ClassifierModel: "test-model",
			AgentNames:      nil,
		},
		Dynamic: dynamic.Config{
			Classifier:      classifier,
			ClassifierModel: "test-model",
			Summarizer:      classifier,
			SummaryModel:    "test-model",
			AgentNames:      nil,
		},
		WorkflowMaxIterations: 5,
		EventBusCapacity:      32,
		WorkflowTimeout:       5 * time.Second,
	})
	return o, store
}

func drainBus(t *testing.T, bus *eventbus.Bus) []eventbus.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var events []eventbus.Event
	for {
		ev, ok := bus.Next(ctx)
		if !ok {
			t.Fatal("bus drain timed out before done")
		}
		events = append(events, ev)
		if ev.Kind == eventbus.KindDone {
			return events
		}
	}
}

func TestHandleUserMessageRejectPathPersistsBothTurns(t *testing.T) {
	rejectResp, _ := json.Marshal(triage.Output{ShouldReject: true, RejectReason: "out of scope for this service"})
	o, store := newTestOrchestrator(t, string(rejectResp))

	ctx := context.Background()
	if _, err := store.EnsureConversation(ctx, nil, "c1", ""); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}

	bus, err := o.HandleUserMessage(ctx, "c1", nil, MessageRequest{Message: "do something unrelated"})
	if err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	events := drainBus(t, bus)

	var sawUserMsg, sawAssistantMsg bool
	for _, ev := range events {
		switch ev.Kind {
		case eventbus.KindUserMessage:
			sawUserMsg = true
		case eventbus.KindAssistantMessage:
			sawAssistantMsg = true
		}
	}
	if !sawUserMsg || !sawAssistantMsg {
		t.Fatalf("want both user_message and assistant_message events, got %+v", events)
	}

	messages, err := store.ListMessages(ctx, nil, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("want 2 persisted messages (user + assistant), got %d", len(messages))
	}
	if messages[0].Role != persistence.RoleUser || messages[0].Sequence != 0 {
		t.Fatalf("want user message at sequence 0, got %+v", messages[0])
	}
	if messages[1].Role != persistence.RoleAssistant || messages[1].Sequence != 1 {
		t.Fatalf("want assistant message at sequence 1, got %+v", messages[1])
	}
	if messages[1].Content == "" {
		t.Fatal("want a non-empty assistant reply")
	}
}

func TestHandleUserMessageRejectsEmptyInput(t *testing.T) {
	o, store := newTestOrchestrator(t, "{}")
	ctx := context.Background()
	if _, err := store.EnsureConversation(ctx, nil, "c1", ""); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}

	_, err := o.HandleUserMessage(ctx, "c1", nil, MessageRequest{Message: "   "})
	if err == nil {
		t.Fatal("want an error for a blank message")
	}
}

func TestBuildWorkflowInputIncludesSummaryAndGapMessages(t *testing.T) {
	got := buildWorkflowInput(memCtxFixture(), "what's next?")
	if got == "" {
		t.Fatal("want a non-empty prompt")
	}
	if want := "Conversation summary so far:\nearlier context"; !contains(got, want) {
		t.Fatalf("want summary preamble in %q", got)
	}
	if !contains(got, "user: hello") || !contains(got, "assistant: hi there") {
		t.Fatalf("want gap messages in %q", got)
	}
	if !contains(got, "User: what's next?") {
		t.Fatalf("want the current message appended last in %q", got)
	}
}

func memCtxFixture() memory.ConversationContext {
	return memory.ConversationContext{
		MemoryText: "earlier context",
		GapMessages: []persistence.Message{
			{Role: persistence.RoleUser, Content: "hello"},
			{Role: persistence.RoleAssistant, Content: "hi there"},
		},
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
