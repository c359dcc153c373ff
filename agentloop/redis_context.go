package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/martinemde/agentcore/unifiedllm"
)

// RedisContextConfig describes where a transcript lives in Redis.
type RedisContextConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string // default "agentcore:context:"

	// MaxMessages > 0 makes ShouldCompact report true once the transcript
	// grows past it.
	MaxMessages int
}

// RedisContext stores a transcript as a Redis list of JSON messages, so a
// conversation survives process restarts and can be shared by servers.
type RedisContext struct {
	client      redis.Cmdable
	key         string
	maxMessages int
}

// NewRedisClient opens and pings a client for cfg.
func NewRedisClient(ctx context.Context, cfg RedisContextConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// NewRedisContext binds a transcript for sessionID to an existing client.
func NewRedisContext(client redis.Cmdable, cfg RedisContextConfig, sessionID string) *RedisContext {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentcore:context:"
	}
	return &RedisContext{client: client, key: prefix + sessionID, maxMessages: cfg.MaxMessages}
}

// Key returns the Redis list key backing this transcript.
func (c *RedisContext) Key() string { return c.key }

func (c *RedisContext) AddMessage(ctx context.Context, msg unifiedllm.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.client.RPush(ctx, c.key, raw).Err(); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (c *RedisContext) GetMessages(ctx context.Context) ([]unifiedllm.Message, error) {
	values, err := c.client.LRange(ctx, c.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read: %w", err)
	}
	return decodeMessages(values)
}

func (c *RedisContext) ShouldCompact(ctx context.Context) (bool, error) {
	if c.maxMessages <= 0 {
		return false, nil
	}
	n, err := c.client.LLen(ctx, c.key).Result()
	if err != nil {
		return false, fmt.Errorf("redis length: %w", err)
	}
	return n > int64(c.maxMessages), nil
}

// Compact drops the oldest messages so at most MaxMessages remain, cutting
// only in front of a user message so no tool result loses its call.
func (c *RedisContext) Compact(ctx context.Context) error {
	if c.maxMessages <= 0 {
		return nil
	}
	msgs, err := c.GetMessages(ctx)
	if err != nil {
		return err
	}
	cut := compactionCut(msgs, c.maxMessages)
	if cut <= 0 {
		return nil
	}
	if err := c.client.LTrim(ctx, c.key, int64(cut), -1).Err(); err != nil {
		return fmt.Errorf("redis trim: %w", err)
	}
	return nil
}

func (c *RedisContext) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func decodeMessages(values []string) ([]unifiedllm.Message, error) {
	out := make([]unifiedllm.Message, 0, len(values))
	for i, v := range values {
		var msg unifiedllm.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// compactionCut returns the index of the first message to keep, or 0 when
// nothing can be dropped safely.
func compactionCut(msgs []unifiedllm.Message, max int) int {
	if len(msgs) <= max {
		return 0
	}
	for i := len(msgs) - max; i < len(msgs); i++ {
		if msgs[i].Role == unifiedllm.RoleUser {
			return i
		}
	}
	return 0
}
