package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"partyhub/server/internal/config"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, for tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetClient() *redis.Client {
	return s.client
}

// Recent-history storage. Each party keeps a capped list of raw outbound
// frames so a joining client can backfill the last page of chat without a
// database read.
const (
	historyMaxListSize = 500
	historyListTTL     = 24 * time.Hour
	historyDedupTTL    = 5 * time.Minute
)

func historyKey(partyID string) string {
	return "party:" + partyID + ":history"
}

func historyDedupKey(partyID, frameHash string) string {
	return "party:" + partyID + ":dedup:" + frameHash
}

// AppendHistory pushes one serialized frame onto the party's history list.
// A short-lived dedup key absorbs retried appends of the same frame.
func (s *RedisStore) AppendHistory(ctx context.Context, partyID string, frame []byte) error {
	sum := sha256.Sum256(frame)
	dedupKey := historyDedupKey(partyID, hex.EncodeToString(sum[:]))

	exists, err := s.client.Exists(ctx, dedupKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check history dedup: %w", err)
	}
	if exists > 0 {
		return nil
	}

	key := historyKey(partyID)
	if err := s.client.LPush(ctx, key, frame).Err(); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, historyMaxListSize-1).Err(); err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	if err := s.client.Set(ctx, dedupKey, "1", historyDedupTTL).Err(); err != nil {
		return fmt.Errorf("failed to set history dedup key: %w", err)
	}
	if err := s.client.Expire(ctx, key, historyListTTL).Err(); err != nil {
		// Non-critical, the list just lives longer than intended.
		log.Printf("[RedisStore] failed to set history TTL for party %s: %v", partyID, err)
	}

	return nil
}

// RecentHistory returns up to limit frames, oldest first, ready to replay to
// a newly joined socket.
func (s *RedisStore) RecentHistory(ctx context.Context, partyID string, limit int64) ([]string, error) {
	if limit <= 0 || limit > historyMaxListSize {
		limit = 100
	}

	frames, err := s.client.LRange(ctx, historyKey(partyID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	// LPUSH keeps newest first; replay order is oldest first.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames, nil
}

// HistoryLen returns the party's current history length.
func (s *RedisStore) HistoryLen(ctx context.Context, partyID string) (int64, error) {
	return s.client.LLen(ctx, historyKey(partyID)).Result()
}

// ClearHistory drops the party's history list.
func (s *RedisStore) ClearHistory(ctx context.Context, partyID string) error {
	return s.client.Del(ctx, historyKey(partyID)).Err()
}
