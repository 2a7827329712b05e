package databases

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"weavechat/internal/persistence"
)

// PostgresMemoryStore is the durable backend for the Memory Service's
// version-chained summary records.
type PostgresMemoryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMemoryStore wraps an existing pool.
func NewPostgresMemoryStore(pool *pgxpool.Pool) *PostgresMemoryStore {
	return &PostgresMemoryStore{pool: pool}
}

func (s *PostgresMemoryStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_records (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	memory_text TEXT NOT NULL DEFAULT '',
	start_sequence INT NOT NULL,
	end_sequence INT NOT NULL,
	base_memory_id TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	generation_time_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS memory_records_conversation_idx ON memory_records (conversation_id, end_sequence DESC);
CREATE UNIQUE INDEX IF NOT EXISTS memory_records_one_processing_idx
	ON memory_records (conversation_id) WHERE status = 'processing';
`)
	return err
}

func (s *PostgresMemoryStore) LatestCompleted(ctx context.Context, conversationID string) (persistence.MemoryRecord, bool, error) {
	var rec persistence.MemoryRecord
	row := s.pool.QueryRow(ctx, `
SELECT id, conversation_id, memory_text, start_sequence, end_sequence, base_memory_id, status, created_at, generation_time_ms
FROM memory_records
WHERE conversation_id = $1 AND status = 'completed'
ORDER BY end_sequence DESC LIMIT 1`, conversationID)
	if err := row.Scan(&rec.ID, &rec.ConversationID, &rec.MemoryText, &rec.StartSequence, &rec.EndSequence, &rec.BaseMemoryID, &rec.Status, &rec.CreatedAt, &rec.GenerationTimeMS); err != nil {
		if err == pgx.ErrNoRows {
			return persistence.MemoryRecord{}, false, nil
		}
		return persistence.MemoryRecord{}, false, fmt.Errorf("latest completed memory: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresMemoryStore) HasProcessing(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM memory_records WHERE conversation_id = $1 AND status = 'processing')`, conversationID)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("has processing memory: %w", err)
	}
	return exists, nil
}

// BeginProcessing relies on memory_records_one_processing_idx (a unique
// partial index) to make the "at most one processing record per
// conversation" invariant atomic even under concurrent triggers.
func (s *PostgresMemoryStore) BeginProcessing(ctx context.Context, rec persistence.MemoryRecord) (string, error) {
	id := newID("mem")
	_, err := s.pool.Exec(ctx, `
INSERT INTO memory_records (id, conversation_id, memory_text, start_sequence, end_sequence, base_memory_id, status, created_at, generation_time_ms)
VALUES ($1, $2, '', $3, $4, $5, 'processing', now(), 0)`,
		id, rec.ConversationID, rec.StartSequence, rec.EndSequence, rec.BaseMemoryID)
	if err != nil {
		return "", fmt.Errorf("begin processing memory record: %w", err)
	}
	return id, nil
}

func (s *PostgresMemoryStore) CompleteProcessing(ctx context.Context, memoryID, memoryText string, generationTimeMS int64) error {
	ct, err := s.pool.Exec(ctx, `
UPDATE memory_records SET status = 'completed', memory_text = $2, generation_time_ms = $3
WHERE id = $1`, memoryID, memoryText, generationTimeMS)
	if err != nil {
		return fmt.Errorf("complete processing memory record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PostgresMemoryStore) FailProcessing(ctx context.Context, memoryID string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE memory_records SET status = 'failed' WHERE id = $1`, memoryID)
	if err != nil {
		return fmt.Errorf("fail processing memory record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
