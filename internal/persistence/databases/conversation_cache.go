package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"weavechat/internal/persistence"
)

// RedisConversationCache wraps a durable persistence.ConversationStore with
// the write-through cache described by the conversation store's read/write
// contract: conversation metadata is cached per user, message lists are
// cached per conversation, both with a fixed TTL. Writes always go to the
// durable store first; a cache failure after a successful durable write is
// logged, never returned to the caller.
type RedisConversationCache struct {
	durable persistence.ConversationStore
	client  *redis.Client
	ttl     time.Duration
}

// NewRedisConversationCache constructs the cache layer. addr is a Redis
// "host:port" address; ttl is typically 30 minutes per the conversation
// store's caching contract.
func NewRedisConversationCache(durable persistence.ConversationStore, addr string, ttl time.Duration) (*RedisConversationCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisConversationCache{durable: durable, client: client, ttl: ttl}, nil
}

func (c *RedisConversationCache) Close() error { return c.client.Close() }

func (c *RedisConversationCache) Init(ctx context.Context) error { return c.durable.Init(ctx) }

func metaKey(userID *int64, conversationID string) string {
	if userID == nil {
		return fmt.Sprintf("conv:meta:anon:%s", conversationID)
	}
	return fmt.Sprintf("conv:meta:%d:%s", *userID, conversationID)
}

func messagesKey(conversationID string) string {
	return fmt.Sprintf("conv:messages:%s", conversationID)
}

func (c *RedisConversationCache) cacheWarn(op string, err error) {
	log.Warn().Str("op", op).Err(err).Msg("conversation_cache_failed")
}

func (c *RedisConversationCache) putMeta(ctx context.Context, userID *int64, conv persistence.Conversation) {
	b, err := json.Marshal(conv)
	if err != nil {
		c.cacheWarn("marshal-meta", err)
		return
	}
	if err := c.client.Set(ctx, metaKey(userID, conv.ID), b, c.ttl).Err(); err != nil {
		c.cacheWarn("set-meta", err)
	}
}

func (c *RedisConversationCache) putMessages(ctx context.Context, conversationID string, messages []persistence.Message) {
	b, err := json.Marshal(messages)
	if err != nil {
		c.cacheWarn("marshal-messages", err)
		return
	}
	if err := c.client.Set(ctx, messagesKey(conversationID), b, c.ttl).Err(); err != nil {
		c.cacheWarn("set-messages", err)
	}
}

func (c *RedisConversationCache) invalidate(ctx context.Context, userID *int64, conversationID string) {
	if err := c.client.Del(ctx, metaKey(userID, conversationID), messagesKey(conversationID)).Err(); err != nil {
		c.cacheWarn("invalidate", err)
	}
}

func (c *RedisConversationCache) CreateConversation(ctx context.Context, userID *int64, title string) (persistence.Conversation, error) {
	conv, err := c.durable.CreateConversation(ctx, userID, title)
	if err != nil {
		return conv, err
	}
	c.putMeta(ctx, userID, conv)
	return conv, nil
}

func (c *RedisConversationCache) EnsureConversation(ctx context.Context, userID *int64, id, title string) (persistence.Conversation, error) {
	conv, err := c.durable.EnsureConversation(ctx, userID, id, title)
	if err != nil {
		return conv, err
	}
	c.putMeta(ctx, userID, conv)
	return conv, nil
}

func (c *RedisConversationCache) GetConversation(ctx context.Context, userID *int64, id string) (persistence.Conversation, error) {
	if raw, err := c.client.Get(ctx, metaKey(userID, id)).Bytes(); err == nil {
		var conv persistence.Conversation
		if err := json.Unmarshal(raw, &conv); err == nil {
			return conv, nil
		}
	}
	conv, err := c.durable.GetConversation(ctx, userID, id)
	if err != nil {
		return conv, err
	}
	c.putMeta(ctx, userID, conv)
	return conv, nil
}

func (c *RedisConversationCache) ListConversations(ctx context.Context, userID *int64) ([]persistence.Conversation, error) {
	return c.durable.ListConversations(ctx, userID)
}

func (c *RedisConversationCache) UpdateMetadata(ctx context.Context, userID *int64, id, title, model string, overrides map[string]string) (persistence.Conversation, error) {
	conv, err := c.durable.UpdateMetadata(ctx, userID, id, title, model, overrides)
	if err != nil {
		return conv, err
	}
	c.invalidate(ctx, userID, id)
	c.putMeta(ctx, userID, conv)
	return conv, nil
}

func (c *RedisConversationCache) DeleteConversation(ctx context.Context, userID *int64, id string) error {
	if err := c.durable.DeleteConversation(ctx, userID, id); err != nil {
		return err
	}
	c.invalidate(ctx, userID, id)
	return nil
}

func (c *RedisConversationCache) ListMessages(ctx context.Context, userID *int64, conversationID string) ([]persistence.Message, error) {
	if raw, err := c.client.Get(ctx, messagesKey(conversationID)).Bytes(); err == nil {
		var messages []persistence.Message
		if err := json.Unmarshal(raw, &messages); err == nil {
			return messages, nil
		}
	}
	messages, err := c.durable.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return messages, err
	}
	c.putMessages(ctx, conversationID, messages)
	return messages, nil
}

// SaveMessages writes through to the durable store first, per the
// conversation store's contract; the cache is only updated after that write
// succeeds, and a cache failure afterward is logged rather than returned.
func (c *RedisConversationCache) SaveMessages(ctx context.Context, userID *int64, conversationID string, messages []persistence.Message) (persistence.Conversation, error) {
	conv, err := c.durable.SaveMessages(ctx, userID, conversationID, messages)
	if err != nil {
		return conv, err
	}
	c.putMeta(ctx, userID, conv)
	c.putMessages(ctx, conversationID, messages)
	return conv, nil
}
