package state

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps state in Redis or Valkey under chat_state_{bot}_{chat}.
type RedisStore struct {
	client redisClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redisClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("state: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "state: ping redis %s", addr)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, botUsername string, chatID int64) (*ConversationState, error) {
	data, err := s.client.Get(ctx, Key(botUsername, chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr(err, "redis get")
	}
	return decode(data)
}

func (s *RedisStore) Put(ctx context.Context, st *ConversationState) error {
	data, err := encode(st)
	if err != nil {
		return persistErr(err, "encode")
	}
	if err := s.client.Set(ctx, st.Key(), data, 0).Err(); err != nil {
		return persistErr(err, "redis set")
	}
	return nil
}
