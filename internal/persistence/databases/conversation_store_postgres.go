package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"weavechat/internal/persistence"
)

// PostgresConversationStore is the durable, record-of-truth backend for
// conversations and their messages. Callers typically wrap it in a
// write-through cache (see RedisConversationCache) rather than using it bare.
type PostgresConversationStore struct {
	pool *pgxpool.Pool
}

// NewPostgresConversationStore wraps an existing pool.
func NewPostgresConversationStore(pool *pgxpool.Pool) *PostgresConversationStore {
	return &PostgresConversationStore{pool: pool}
}

func (s *PostgresConversationStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id BIGINT,
	title TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	agent_model_overrides JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_user_id_idx ON conversations (user_id);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sequence_number INT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	satisfied BOOLEAN,
	comment TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (conversation_id, sequence_number)
);
`)
	return err
}

func (s *PostgresConversationStore) CreateConversation(ctx context.Context, userID *int64, title string) (persistence.Conversation, error) {
	now := time.Now().UTC()
	id := newID("conv")
	_, err := s.pool.Exec(ctx, `
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)`, id, userID, title, now)
	if err != nil {
		return persistence.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return persistence.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresConversationStore) EnsureConversation(ctx context.Context, userID *int64, id, title string) (persistence.Conversation, error) {
	conv, err := s.GetConversation(ctx, userID, id)
	if err == nil {
		return conv, nil
	}
	if err != persistence.ErrNotFound {
		return persistence.Conversation{}, err
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (id) DO NOTHING`, id, userID, title, now)
	if err != nil {
		return persistence.Conversation{}, fmt.Errorf("ensure conversation: %w", err)
	}
	return s.GetConversation(ctx, userID, id)
}

func (s *PostgresConversationStore) GetConversation(ctx context.Context, userID *int64, id string) (persistence.Conversation, error) {
	var conv persistence.Conversation
	var overrides []byte
	row := s.pool.QueryRow(ctx, `
SELECT id, user_id, title, model, agent_model_overrides, created_at, updated_at
FROM conversations WHERE id = $1`, id)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &overrides, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return persistence.Conversation{}, persistence.ErrNotFound
		}
		return persistence.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if len(overrides) > 0 {
		_ = json.Unmarshal(overrides, &conv.AgentModelOverrides)
	}
	if !sameUser(conv.UserID, userID) {
		return persistence.Conversation{}, persistence.ErrForbidden
	}
	return conv, nil
}

func (s *PostgresConversationStore) ListConversations(ctx context.Context, userID *int64) ([]persistence.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, title, model, agent_model_overrides, created_at, updated_at
FROM conversations WHERE user_id IS NOT DISTINCT FROM $1
ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []persistence.Conversation
	for rows.Next() {
		var conv persistence.Conversation
		var overrides []byte
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &overrides, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if len(overrides) > 0 {
			_ = json.Unmarshal(overrides, &conv.AgentModelOverrides)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *PostgresConversationStore) UpdateMetadata(ctx context.Context, userID *int64, id, title, model string, overrides map[string]string) (persistence.Conversation, error) {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return persistence.Conversation{}, err
	}
	var overridesJSON []byte
	if overrides != nil {
		b, err := json.Marshal(overrides)
		if err != nil {
			return persistence.Conversation{}, fmt.Errorf("marshal overrides: %w", err)
		}
		overridesJSON = b
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
UPDATE conversations
SET title = COALESCE(NULLIF($2, ''), title),
    model = COALESCE(NULLIF($3, ''), model),
    agent_model_overrides = COALESCE($4, agent_model_overrides),
    updated_at = $5
WHERE id = $1`, id, title, model, overridesJSON, now)
	if err != nil {
		return persistence.Conversation{}, fmt.Errorf("update conversation metadata: %w", err)
	}
	return s.GetConversation(ctx, userID, id)
}

func (s *PostgresConversationStore) DeleteConversation(ctx context.Context, userID *int64, id string) error {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *PostgresConversationStore) ListMessages(ctx context.Context, userID *int64, conversationID string) ([]persistence.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT conversation_id, sequence_number, role, content, created_at, satisfied, comment
FROM messages WHERE conversation_id = $1
ORDER BY sequence_number ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []persistence.Message
	for rows.Next() {
		var m persistence.Message
		if err := rows.Scan(&m.ConversationID, &m.Sequence, &m.Role, &m.Content, &m.CreatedAt, &m.Satisfied, &m.Comment); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveMessages atomically replaces the conversation's entire message
// sequence: delete-then-insert inside one transaction, per the spec's
// write-through contract. Title is auto-assigned from the first user
// message when the conversation still carries the default empty title.
func (s *PostgresConversationStore) SaveMessages(ctx context.Context, userID *int64, conversationID string, messages []persistence.Message) (persistence.Conversation, error) {
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return persistence.Conversation{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistence.Conversation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return persistence.Conversation{}, fmt.Errorf("clear messages: %w", err)
	}
	for _, m := range messages {
		if _, err := tx.Exec(ctx, `
INSERT INTO messages (conversation_id, sequence_number, role, content, created_at, satisfied, comment)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			conversationID, m.Sequence, m.Role, m.Content, m.CreatedAt, m.Satisfied, m.Comment); err != nil {
			return persistence.Conversation{}, fmt.Errorf("insert message %d: %w", m.Sequence, err)
		}
	}

	now := time.Now().UTC()
	title := conv.Title
	if title == "" {
		for _, m := range messages {
			if m.Role == persistence.RoleUser {
				title = snippetForPreview(m.Content)
				break
			}
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET title = $2, updated_at = $3 WHERE id = $1`, conversationID, title, now); err != nil {
		return persistence.Conversation{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return persistence.Conversation{}, fmt.Errorf("commit tx: %w", err)
	}

	conv.Title = title
	conv.UpdatedAt = now
	return conv, nil
}

var idSeq int64

func newID(prefix string) string {
	idSeq++
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq)
}
