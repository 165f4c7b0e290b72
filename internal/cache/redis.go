package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// RecentSampleCache keeps a short per-entity tail of broadcast samples in
// Redis so a reconnecting client can backfill the gap quickly without a
// ClickHouse round trip. Strictly best effort: failures are logged by the
// callers and never fatal.
type RecentSampleCache struct {
	client *redis.Client
	cap    int64
	ttl    time.Duration
}

// NewRecentSampleCache connects to Redis and verifies the connection.
func NewRecentSampleCache(addr string, capacity int, ttl time.Duration) (*RecentSampleCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		DB:         0,
		MaxRetries: 3,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("Connected to Redis at %s", addr)

	if capacity <= 0 {
		capacity = 300
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RecentSampleCache{client: client, cap: int64(capacity), ttl: ttl}, nil
}

func recentKey(entityID string) string {
	return "signal:recent:" + entityID
}

// StoreSample pushes one sample onto the entity's recent list, trimming to
// capacity and refreshing the TTL.
func (c *RecentSampleCache) StoreSample(ctx context.Context, entityID string, s models.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	key := recentKey(entityID)
	if err := c.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to push sample: %w", err)
	}
	c.client.LTrim(ctx, key, 0, c.cap-1)
	c.client.Expire(ctx, key, c.ttl)
	return nil
}

// GetRecent returns up to count recent samples in ascending timestamp order.
func (c *RecentSampleCache) GetRecent(ctx context.Context, entityID string, count int) ([]models.Sample, error) {
	if count <= 0 || int64(count) > c.cap {
		count = int(c.cap)
	}

	raws, err := c.client.LRange(ctx, recentKey(entityID), 0, int64(count)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent samples: %w", err)
	}

	samples := make([]models.Sample, 0, len(raws))
	// LPush stores newest first; walk backwards for ascending order.
	for i := len(raws) - 1; i >= 0; i-- {
		var s models.Sample
		if err := json.Unmarshal([]byte(raws[i]), &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (c *RecentSampleCache) Close() error {
	return c.client.Close()
}
