package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested conversation, message set, or memory
// record does not exist.
var ErrNotFound = errors.New("persistence: not found")

// ErrForbidden indicates the caller does not own the requested conversation.
var ErrForbidden = errors.New("persistence: forbidden")

// Store is a placeholder for transcripts/state persistence.
type Store interface{}

// Specialist represents a stored specialist configuration for CRUD.
type Specialist struct {
	ID                         int64             `json:"id"`
	Name                       string            `json:"name"`
	Description                string            `json:"description"`
	Provider                   string            `json:"provider"`
	BaseURL                    string            `json:"baseURL"`
	APIKey                     string            `json:"apiKey"`
	Model                      string            `json:"model"`
	SummaryContextWindowTokens int               `json:"summaryContextWindowTokens"`
	EnableTools                bool              `json:"enableTools"`
	Paused                     bool              `json:"paused"`
	AllowTools                 []string          `json:"allowTools"`
	ReasoningEffort            string            `json:"reasoningEffort"`
	System                     string            `json:"system"`
	ExtraHeaders               map[string]string `json:"extraHeaders"`
	ExtraParams                map[string]any    `json:"extraParams"`
}

// SpecialistsStore defines CRUD over specialists, scoped per owning user.
type SpecialistsStore interface {
	Init(ctx context.Context) error
	List(ctx context.Context, userID int64) ([]Specialist, error)
	GetByName(ctx context.Context, userID int64, name string) (Specialist, bool, error)
	Upsert(ctx context.Context, userID int64, s Specialist) (Specialist, error)
	Delete(ctx context.Context, userID int64, name string) error
}

// Conversation is the durable record of a chat conversation. Every message
// and memory record is scoped to a conversation ID.
type Conversation struct {
	ID                  string            `json:"id"`
	UserID              *int64            `json:"userId,omitempty"`
	Title               string            `json:"title"`
	Model               string            `json:"model"`
	AgentModelOverrides map[string]string `json:"agentModelOverrides,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// MessageRole enumerates the two roles messages alternate between. A round is
// the pair (2k user, 2k+1 assistant).
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation. Sequence is dense and 0-based within
// a conversation: user messages occupy even sequence numbers, assistant
// messages occupy odd ones.
type Message struct {
	ID           string    `json:"id"`
	ConversationID string  `json:"conversationId"`
	Sequence     int       `json:"sequence"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	Satisfied    *bool     `json:"satisfied,omitempty"`
	Comment      string    `json:"comment,omitempty"`
}

// Memory status values. At most one processing record may exist per
// conversation at a time.
const (
	MemoryProcessing = "processing"
	MemoryCompleted  = "completed"
	MemoryFailed     = "failed"
)

// MemoryRecord is one link in a conversation's rolling-summary chain. A
// completed record's window is stable once written; base_memory_id points at
// the prior completed record it incrementally extends, so start_sequence
// strictly increases along the chain as the conversation grows.
type MemoryRecord struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversationId"`
	MemoryText       string    `json:"memoryText"`
	StartSequence    int       `json:"startSequence"`
	EndSequence      int       `json:"endSequence"`
	BaseMemoryID     *string   `json:"baseMemoryId,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	GenerationTimeMS int64     `json:"generationTimeMs"`
}

// ConversationStore is the durable (record-of-truth) backend for
// conversations and their messages. Implementations are wrapped by a
// write-through cache; see internal/persistence/databases.
type ConversationStore interface {
	Init(ctx context.Context) error

	CreateConversation(ctx context.Context, userID *int64, title string) (Conversation, error)
	EnsureConversation(ctx context.Context, userID *int64, id, title string) (Conversation, error)
	GetConversation(ctx context.Context, userID *int64, id string) (Conversation, error)
	ListConversations(ctx context.Context, userID *int64) ([]Conversation, error)
	UpdateMetadata(ctx context.Context, userID *int64, id, title, model string, overrides map[string]string) (Conversation, error)
	DeleteConversation(ctx context.Context, userID *int64, id string) error

	// ListMessages returns the full, sequence-ordered message list.
	ListMessages(ctx context.Context, userID *int64, conversationID string) ([]Message, error)

	// SaveMessages atomically replaces the conversation's entire message
	// sequence with messages (delete-then-insert, transactional). Callers
	// pass the full desired history, not just a delta. Returns the updated
	// conversation (title auto-assigned from the first user message when it
	// is still the default).
	SaveMessages(ctx context.Context, userID *int64, conversationID string, messages []Message) (Conversation, error)
}

// MemoryStore is the durable backend for the Memory Service's version-chained
// summary records (see internal/memory).
type MemoryStore interface {
	Init(ctx context.Context) error

	// LatestCompleted returns the completed record with the highest
	// end_sequence for the conversation, if any.
	LatestCompleted(ctx context.Context, conversationID string) (MemoryRecord, bool, error)

	// HasProcessing reports whether a processing record already exists for
	// the conversation (at most one may exist at a time).
	HasProcessing(ctx context.Context, conversationID string) (bool, error)

	// BeginProcessing inserts a new processing record and returns its ID.
	// Implementations must make this atomic with HasProcessing's invariant
	// (e.g. a unique partial index / transaction) so concurrent triggers
	// cannot both start a processing record for the same conversation.
	BeginProcessing(ctx context.Context, rec MemoryRecord) (string, error)

	// CompleteProcessing marks a processing record completed and fills in
	// its text and generation time.
	CompleteProcessing(ctx context.Context, memoryID, memoryText string, generationTimeMS int64) error

	// FailProcessing marks a processing record failed.
	FailProcessing(ctx context.Context, memoryID string) error
}
