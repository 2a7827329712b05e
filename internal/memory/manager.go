// Package memory implements the sliding-window Memory Service: it keeps a
// version-chained summary per conversation so the orchestrator never has to
// resend the full transcript, while always covering a bounded, recent window
// of messages.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"weavechat/internal/llm"
	"weavechat/internal/observability"
	"weavechat/internal/persistence"
)

const (
	defaultRollingWindowSize  = 14
	defaultSummarizeAfterSeq  = 5
	maxSummarizeChunkMessages = 4096
)

// Config tunes the sliding-window summarizer. These knobs are process-wide,
// not per request; see config.MemoryServiceConfig.
type Config struct {
	Enabled           bool
	RollingWindowSize int
	SummarizeAfterSeq int
	Model             string
}

// ConversationContext is what the Read contract hands back to a caller about
// to build a workflow input: a summary text covering everything before the
// window, plus the raw messages inside the window (excluding the just-posted
// user message).
type ConversationContext struct {
	MemoryText  string
	GapMessages []persistence.Message
}

// Manager is the Memory Service: it owns the Trigger and Read contracts
// described by the memory record version chain.
type Manager struct {
	conversations persistence.ConversationStore
	memories      persistence.MemoryStore
	summarizer    llm.Provider

	enabled           bool
	rollingWindowSize int
	summarizeAfterSeq int
	model             string
}

// NewManager constructs the Memory Service. summarizer may be nil, in which
// case the service is disabled regardless of cfg.Enabled (there is nothing to
// summarize with).
func NewManager(conversations persistence.ConversationStore, memories persistence.MemoryStore, summarizer llm.Provider, cfg Config) *Manager {
	m := &Manager{
		conversations:     conversations,
		memories:          memories,
		summarizer:        summarizer,
		enabled:           cfg.Enabled && summarizer != nil,
		rollingWindowSize: cfg.RollingWindowSize,
		summarizeAfterSeq: cfg.SummarizeAfterSeq,
		model:             cfg.Model,
	}
	if m.rollingWindowSize <= 0 {
		m.rollingWindowSize = defaultRollingWindowSize
	}
	if m.summarizeAfterSeq <= 0 {
		m.summarizeAfterSeq = defaultSummarizeAfterSeq
	}
	return m
}

// Read implements the Memory Service's read contract: fetch the latest
// completed memory (if any), then return the window of messages not yet
// covered by it, excluding the just-posted user message (the last element of
// messages).
func (m *Manager) Read(ctx context.Context, conversationID string, messages []persistence.Message) (ConversationContext, error) {
	if len(messages) == 0 {
		return ConversationContext{}, nil
	}

	latest, ok, err := m.memories.LatestCompleted(ctx, conversationID)
	if err != nil {
		return ConversationContext{}, fmt.Errorf("fetch latest completed memory: %w", err)
	}

	// Exclude the just-posted user message (the last element).
	upperExclusive := len(messages) - 1
	if upperExclusive < 0 {
		upperExclusive = 0
	}

	if !ok {
		gap := make([]persistence.Message, upperExclusive)
		copy(gap, messages[:upperExclusive])
		return ConversationContext{GapMessages: gap}, nil
	}

	lowerInclusive := latest.EndSequence + 1
	gap := messagesInSequenceRange(messages, lowerInclusive, upperExclusive)
	return ConversationContext{MemoryText: latest.MemoryText, GapMessages: gap}, nil
}

func messagesInSequenceRange(messages []persistence.Message, lowerInclusive, upperExclusive int) []persistence.Message {
	out := make([]persistence.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Sequence >= lowerInclusive && msg.Sequence < upperExclusive {
			out = append(out, msg)
		}
	}
	return out
}

// Trigger implements the Memory Service's trigger contract. It is called at
// the end of each round with the assistant message's sequence number. It
// returns the newly created memory ID (empty if the call was a no-op).
// Summarization itself runs in a spawned goroutine; callers invoke Trigger
// fire-and-forget per the orchestrator's contract.
func (m *Manager) Trigger(ctx context.Context, conversationID string, assistantSeq int) (string, error) {
	if !m.enabled {
		return "", nil
	}
	if assistantSeq < m.summarizeAfterSeq {
		return "", nil
	}

	hasProcessing, err := m.memories.HasProcessing(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("check processing memory: %w", err)
	}
	if hasProcessing {
		return "", nil
	}

	end := assistantSeq
	start := end - m.rollingWindowSize + 1
	if start < 0 {
		start = 0
	}
	if start%2 != 0 {
		start++ // align upward to an even number; never split a user/assistant pair
	}

	base, hasBase, err := m.memories.LatestCompleted(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("fetch base memory: %w", err)
	}

	rec := persistence.MemoryRecord{
		ConversationID: conversationID,
		StartSequence:  start,
		EndSequence:    end,
	}
	if hasBase {
		baseID := base.ID
		rec.BaseMemoryID = &baseID
	}

	memoryID, err := m.memories.BeginProcessing(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("begin processing memory: %w", err)
	}

	readFrom := start
	if hasBase {
		readFrom = base.EndSequence + 1
	}

	// Summarization runs in the background; Trigger itself returns as soon as
	// the processing row is durably reserved.
	go m.summarizeInBackground(context.WithoutCancel(ctx), memoryID, conversationID, readFrom, end, basePreviousSummary(hasBase, base))

	return memoryID, nil
}

func basePreviousSummary(hasBase bool, base persistence.MemoryRecord) string {
	if !hasBase {
		return ""
	}
	return base.MemoryText
}

func (m *Manager) summarizeInBackground(ctx context.Context, memoryID, conversationID string, readFrom, readTo int, previousSummary string) {
	log := observability.LoggerWithTrace(ctx)
	started := time.Now()

	messages, err := m.conversations.ListMessages(ctx, nil, conversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("memory_id", memoryID).Msg("memory_summarize_list_messages_failed")
		m.failProcessing(ctx, memoryID)
		return
	}
	chunk := messagesInSequenceRange(messages, readFrom, readTo+1)

	summary, err := m.summarizeChunk(ctx, previousSummary, readFrom, chunk)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("memory_id", memoryID).Msg("memory_summarize_failed")
		m.failProcessing(ctx, memoryID)
		return
	}

	generationTimeMS := time.Since(started).Milliseconds()
	if err := m.memories.CompleteProcessing(ctx, memoryID, summary, generationTimeMS); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("memory_id", memoryID).Msg("memory_complete_processing_failed")
		return
	}
	log.Info().Str("conversation_id", conversationID).Str("memory_id", memoryID).
		Int("messages_summarized", len(chunk)).Int64("generation_time_ms", generationTimeMS).
		Msg("memory_summarize_completed")
}

func (m *Manager) failProcessing(ctx context.Context, memoryID string) {
	if err := m.memories.FailProcessing(ctx, memoryID); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("memory_id", memoryID).Msg("memory_fail_processing_failed")
	}
}

func (m *Manager) summarizeChunk(ctx context.Context, previousSummary string, windowStart int, chunk []persistence.Message) (string, error) {
	if m.summarizer == nil {
		return "", fmt.Errorf("no summarizer provider configured")
	}

	var userPrompt strings.Builder
	userPrompt.WriteString("Update the running summary of this conversation. Keep it concise but information-dense.\n")
	userPrompt.WriteString("Preserve user goals, preferences, decisions, key facts, identifiers, and open questions.\n")
	fmt.Fprintf(&userPrompt, "Drop any content from before message sequence %d; it is outside the retained window.\n", windowStart)
	if strings.TrimSpace(previousSummary) != "" {
		userPrompt.WriteString("\nExisting summary:\n")
		userPrompt.WriteString(strings.TrimSpace(previousSummary))
		userPrompt.WriteString("\n\n")
	}
	userPrompt.WriteString("New conversation turns:\n")
	for _, msg := range chunk {
		content := truncateForSummary(strings.TrimSpace(msg.Content), maxSummarizeChunkMessages)
		if content == "" {
			content = "(no content)"
		}
		fmt.Fprintf(&userPrompt, "\nRole: %s\n%s\n", msg.Role, content)
	}
	userPrompt.WriteString("\nReturn only the updated summary. Aim for <= 1200 characters; use short bullets if helpful.")

	msgs := []llm.Message{
		{Role: "system", Content: "You are a concise summarizer. Maintain an accurate running summary of a conversation."},
		{Role: "user", Content: userPrompt.String()},
	}

	resp, err := m.summarizer.Chat(ctx, msgs, nil, m.model)
	if err != nil {
		return "", fmt.Errorf("summarize conversation window: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("empty summary returned")
	}
	return summary, nil
}

func truncateForSummary(content string, limit int) string {
	if limit <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	marker := []rune("\n[TRUNCATED]\n")
	if limit <= len(marker)+4 {
		return string(runes[:limit]) + string(marker)
	}
	available := limit - len(marker)
	head := available * 6 / 10
	if head < 1 {
		head = 1
	}
	tail := available - head
	if tail < 1 {
		tail = 1
		head = available - tail
	}
	if head+tail > len(runes) {
		return content
	}
	return string(runes[:head]) + string(marker) + string(runes[len(runes)-tail:])
}
