package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/krazio-01/whisperwave/internal/models"
)

const messageCacheTTL = 24 * time.Hour

// RedisStore handles Redis operations: the per-chat recent-message cache
// and the rate limiter's counters. Everything here is a hot path in front
// of the SQL store and is safe to lose.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the rate limiter middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// chatMessagesKey returns the key for a chat's message sorted set.
func chatMessagesKey(chatID uuid.UUID) string {
	return fmt.Sprintf("chat:%s:messages", chatID)
}

// CacheMessage stores a message in the chat's recent-message set. Score is
// the message ULID's timestamp component via CreatedAt; members are the
// serialized message.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := chatMessagesKey(msg.ChatID)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: string(data),
	})
	pipe.Expire(ctx, key, messageCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentMessages returns cached messages for a chat, oldest first.
func (s *RedisStore) RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	key := chatMessagesKey(chatID)
	results, err := s.client.ZRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// InvalidateChat drops a chat's cached messages, used when a chat is deleted.
func (s *RedisStore) InvalidateChat(ctx context.Context, chatID uuid.UUID) error {
	return s.client.Del(ctx, chatMessagesKey(chatID)).Err()
}
