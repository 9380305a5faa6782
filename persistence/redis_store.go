package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-based implementation of Store. Suitable for
// distributed deployments where several engine instances share history.
// Records are stored as JSON values with sorted-set indexes (scored by
// resolution time) per session and globally.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a new Redis-based store and verifies connectivity.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "humanloop:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "interaction:",
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests with
// miniredis and by callers that manage the client lifecycle themselves.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "humanloop:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "interaction:"}
}

// Close closes the store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) dataKey(id string) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.keyPrefix + "session:" + sessionID
}

func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

// SaveInteraction persists one terminal interaction record.
func (s *RedisStore) SaveInteraction(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	score := float64(rec.ResolvedAt.UnixMilli())
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(rec.ID), data, 0)
	pipe.ZAdd(ctx, s.sessionKey(rec.SessionID), redis.Z{Score: score, Member: rec.ID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// GetInteractionHistory returns the most recent records for a session.
func (s *RedisStore) GetInteractionHistory(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.sessionKey(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	return s.loadRecords(ctx, ids)
}

// ExportInteractionData returns records matching the filter, newest first.
func (s *RedisStore) ExportInteractionData(ctx context.Context, filter Filter) ([]*Record, error) {
	indexKey := s.allKey()
	if filter.SessionID != "" {
		indexKey = s.sessionKey(filter.SessionID)
	}

	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	records, err := s.loadRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, rec := range records {
		if filter.Matches(rec) {
			out = append(out, rec)
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
	}
	return out, nil
}

// Cleanup removes records resolved earlier than olderThan ago.
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	maxScore := fmt.Sprintf("%d", cutoff)

	ids, err := s.client.ZRangeByScore(ctx, s.allKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find expired records: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Load first so the session indexes can be cleaned precisely.
	records, err := s.loadRecords(ctx, ids)
	if err != nil {
		return 0, err
	}

	pipe := s.client.Pipeline()
	for _, rec := range records {
		pipe.Del(ctx, s.dataKey(rec.ID))
		pipe.ZRem(ctx, s.sessionKey(rec.SessionID), rec.ID)
		pipe.ZRem(ctx, s.allKey(), rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	return len(records), nil
}

// Stats returns statistics about the stored records.
func (s *RedisStore) Stats(ctx context.Context) (*StoreStats, error) {
	ids, err := s.client.ZRevRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	records, err := s.loadRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	stats := &StoreStats{
		Total:    len(records),
		ByStatus: make(map[string]int),
	}
	for _, rec := range records {
		stats.ByStatus[rec.Status]++
	}
	return stats, nil
}

// loadRecords fetches record payloads by id, skipping ids whose payload has
// already expired from under the index.
func (s *RedisStore) loadRecords(ctx context.Context, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	records := make([]*Record, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}
