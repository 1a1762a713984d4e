package recent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each user's list under recent:<userID>.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient connects and pings so misconfiguration fails at startup.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func key(userID string) string {
	return "recent:" + userID
}

func (r *RedisStore) Push(ctx context.Context, userID string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal recent entry: %w", err)
	}
	k := key(userID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, k, data)
	pipe.LTrim(ctx, k, 0, MaxEntries-1)
	pipe.Expire(ctx, k, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push recent entry for user %s: %w", userID, err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context, userID string) ([]Entry, error) {
	raw, err := r.client.LRange(ctx, key(userID), 0, MaxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent entries for user %s: %w", userID, err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("clear recent entries for user %s: %w", userID, err)
	}
	return nil
}
