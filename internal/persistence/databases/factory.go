package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"weavechat/internal/config"
	"weavechat/internal/persistence"
)

// Manager bundles the durable backends the rest of the service depends on.
// Conversations is wrapped in the write-through cache when DBConfig.CacheAddr
// is set; callers that need the bare durable store for bookkeeping can still
// reach it off the Manager's Durable field.
type Manager struct {
	Conversations persistence.ConversationStore
	Durable       persistence.ConversationStore
	Memory        persistence.MemoryStore
	Specialists   persistence.SpecialistsStore

	cache *RedisConversationCache
}

// Close releases any pooled connections held by the manager's backends.
func (m Manager) Close() {
	if m.cache != nil {
		_ = m.cache.Close()
	}
}

// NewManager constructs the conversation, memory, and specialists backends
// plus the conversation write-through cache from cfg. Each backend defaults
// to "memory" and is promoted to "postgres" once a DSN is available.
func NewManager(ctx context.Context, cfg config.DBConfig) (Manager, error) {
	var m Manager

	durable, err := buildConversationStore(ctx, cfg)
	if err != nil {
		return Manager{}, err
	}
	m.Durable = durable
	m.Conversations = durable

	if !cfg.CacheDisabled && cfg.CacheAddr != "" {
		ttl := time.Duration(cfg.CacheTTLMins) * time.Minute
		if ttl <= 0 {
			ttl = 30 * time.Minute
		}
		cache, err := NewRedisConversationCache(durable, cfg.CacheAddr, ttl)
		if err != nil {
			return Manager{}, fmt.Errorf("connect conversation cache: %w", err)
		}
		m.cache = cache
		m.Conversations = cache
	}

	memStore, err := buildMemoryStore(ctx, cfg)
	if err != nil {
		return Manager{}, err
	}
	m.Memory = memStore

	specStore, err := buildSpecialistsStore(ctx, cfg)
	if err != nil {
		return Manager{}, err
	}
	m.Specialists = specStore

	if err := m.Conversations.Init(ctx); err != nil {
		return Manager{}, fmt.Errorf("init conversation store: %w", err)
	}
	if err := m.Memory.Init(ctx); err != nil {
		return Manager{}, fmt.Errorf("init memory store: %w", err)
	}
	if err := m.Specialists.Init(ctx); err != nil {
		return Manager{}, fmt.Errorf("init specialists store: %w", err)
	}
	return m, nil
}

func buildConversationStore(ctx context.Context, cfg config.DBConfig) (persistence.ConversationStore, error) {
	switch cfg.Chat.Backend {
	case "", "memory":
		return NewMemoryConversationStore(), nil
	case "postgres", "pg":
		dsn := firstNonEmpty(cfg.Chat.DSN, cfg.DefaultDSN)
		if dsn == "" {
			return nil, fmt.Errorf("conversation store backend postgres requires a DSN")
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres (conversations): %w", err)
		}
		return NewPostgresConversationStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported conversation store backend: %s", cfg.Chat.Backend)
	}
}

func buildMemoryStore(ctx context.Context, cfg config.DBConfig) (persistence.MemoryStore, error) {
	switch cfg.Memory.Backend {
	case "", "memory":
		return NewMemoryMemoryStore(), nil
	case "postgres", "pg":
		dsn := firstNonEmpty(cfg.Memory.DSN, cfg.DefaultDSN)
		if dsn == "" {
			return nil, fmt.Errorf("memory store backend postgres requires a DSN")
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres (memory): %w", err)
		}
		return NewPostgresMemoryStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported memory store backend: %s", cfg.Memory.Backend)
	}
}

func buildSpecialistsStore(ctx context.Context, cfg config.DBConfig) (persistence.SpecialistsStore, error) {
	switch cfg.Specialists.Backend {
	case "", "memory":
		return NewMemorySpecialistsStore(), nil
	case "postgres", "pg":
		dsn := firstNonEmpty(cfg.Specialists.DSN, cfg.DefaultDSN)
		if dsn == "" {
			return nil, fmt.Errorf("specialists store backend postgres requires a DSN")
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres (specialists): %w", err)
		}
		return NewPostgresSpecialistsStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported specialists store backend: %s", cfg.Specialists.Backend)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = 8
	pcfg.MinConns = 0
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
