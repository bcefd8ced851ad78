package purchaseorder

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSequence hands out daily serials via an atomic INCR on a per-day
// key, closing the count-then-increment race of the naive generator. Keys
// expire two days after first use.
type RedisSequence struct {
	client *redis.Client
}

// NewRedisSequence constructs the counter.
func NewRedisSequence(client *redis.Client) *RedisSequence {
	return &RedisSequence{client: client}
}

// Next returns the next serial for the given calendar day.
func (s *RedisSequence) Next(ctx context.Context, day time.Time) (int64, error) {
	key := fmt.Sprintf("po:serial:%s", day.Format("2006-01-02"))
	serial, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("purchaseorder: next serial: %w", err)
	}
	if serial == 1 {
		_ = s.client.Expire(ctx, key, 48*time.Hour).Err()
	}
	return serial, nil
}
