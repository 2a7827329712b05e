package databases

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"weavechat/internal/persistence"
)

// PostgresSpecialistsStore is the durable backend for per-user specialist
// roster CRUD.
type PostgresSpecialistsStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSpecialistsStore wraps an existing pool.
func NewPostgresSpecialistsStore(pool *pgxpool.Pool) *PostgresSpecialistsStore {
	return &PostgresSpecialistsStore{pool: pool}
}

func (s *PostgresSpecialistsStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS specialists (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT '',
	api_key TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	summary_context_window_tokens INT NOT NULL DEFAULT 0,
	enable_tools BOOLEAN NOT NULL DEFAULT FALSE,
	paused BOOLEAN NOT NULL DEFAULT FALSE,
	allow_tools JSONB,
	reasoning_effort TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	extra_headers JSONB,
	extra_params JSONB,
	UNIQUE (user_id, name)
);
`)
	return err
}

func (s *PostgresSpecialistsStore) List(ctx context.Context, userID int64) ([]persistence.Specialist, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, description, provider, base_url, api_key, model, summary_context_window_tokens,
       enable_tools, paused, allow_tools, reasoning_effort, system_prompt, extra_headers, extra_params
FROM specialists WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list specialists: %w", err)
	}
	defer rows.Close()
	var out []persistence.Specialist
	for rows.Next() {
		sp, err := scanSpecialist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *PostgresSpecialistsStore) GetByName(ctx context.Context, userID int64, name string) (persistence.Specialist, bool, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, description, provider, base_url, api_key, model, summary_context_window_tokens,
       enable_tools, paused, allow_tools, reasoning_effort, system_prompt, extra_headers, extra_params
FROM specialists WHERE user_id = $1 AND name = $2`, userID, name)
	if err != nil {
		return persistence.Specialist{}, false, fmt.Errorf("get specialist: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return persistence.Specialist{}, false, rows.Err()
	}
	sp, err := scanSpecialist(rows)
	if err != nil {
		return persistence.Specialist{}, false, err
	}
	return sp, true, nil
}

func (s *PostgresSpecialistsStore) Upsert(ctx context.Context, userID int64, sp persistence.Specialist) (persistence.Specialist, error) {
	allowTools, err := json.Marshal(sp.AllowTools)
	if err != nil {
		return persistence.Specialist{}, fmt.Errorf("marshal allow_tools: %w", err)
	}
	extraHeaders, err := json.Marshal(sp.ExtraHeaders)
	if err != nil {
		return persistence.Specialist{}, fmt.Errorf("marshal extra_headers: %w", err)
	}
	extraParams, err := json.Marshal(sp.ExtraParams)
	if err != nil {
		return persistence.Specialist{}, fmt.Errorf("marshal extra_params: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO specialists (user_id, name, description, provider, base_url, api_key, model, summary_context_window_tokens,
	enable_tools, paused, allow_tools, reasoning_effort, system_prompt, extra_headers, extra_params)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (user_id, name) DO UPDATE SET
	description = EXCLUDED.description,
	provider = EXCLUDED.provider,
	base_url = EXCLUDED.base_url,
	api_key = EXCLUDED.api_key,
	model = EXCLUDED.model,
	summary_context_window_tokens = EXCLUDED.summary_context_window_tokens,
	enable_tools = EXCLUDED.enable_tools,
	paused = EXCLUDED.paused,
	allow_tools = EXCLUDED.allow_tools,
	reasoning_effort = EXCLUDED.reasoning_effort,
	system_prompt = EXCLUDED.system_prompt,
	extra_headers = EXCLUDED.extra_headers,
	extra_params = EXCLUDED.extra_params
RETURNING id`,
		userID, sp.Name, sp.Description, sp.Provider, sp.BaseURL, sp.APIKey, sp.Model, sp.SummaryContextWindowTokens,
		sp.EnableTools, sp.Paused, allowTools, sp.ReasoningEffort, sp.System, extraHeaders, extraParams)
	if err := row.Scan(&sp.ID); err != nil {
		return persistence.Specialist{}, fmt.Errorf("upsert specialist: %w", err)
	}
	return sp, nil
}

func (s *PostgresSpecialistsStore) Delete(ctx context.Context, userID int64, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM specialists WHERE user_id = $1 AND name = $2`, userID, name)
	if err != nil {
		return fmt.Errorf("delete specialist: %w", err)
	}
	return nil
}

func scanSpecialist(rows pgx.Rows) (persistence.Specialist, error) {
	var sp persistence.Specialist
	var allowTools, extraHeaders, extraParams []byte
	if err := rows.Scan(&sp.ID, &sp.Name, &sp.Description, &sp.Provider, &sp.BaseURL, &sp.APIKey, &sp.Model,
		&sp.SummaryContextWindowTokens, &sp.EnableTools, &sp.Paused, &allowTools, &sp.ReasoningEffort, &sp.System,
		&extraHeaders, &extraParams); err != nil {
		return persistence.Specialist{}, fmt.Errorf("scan specialist: %w", err)
	}
	if len(allowTools) > 0 {
		_ = json.Unmarshal(allowTools, &sp.AllowTools)
	}
	if len(extraHeaders) > 0 {
		_ = json.Unmarshal(extraHeaders, &sp.ExtraHeaders)
	}
	if len(extraParams) > 0 {
		_ = json.Unmarshal(extraParams, &sp.ExtraParams)
	}
	return sp, nil
}
