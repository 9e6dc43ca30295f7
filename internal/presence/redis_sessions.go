package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL is how long a session survives without a refresh.
const DefaultSessionTTL = 24 * time.Hour

// RedisSessions keeps one expiring key per logged-in user. It must be given
// its own client, not one borrowed from the queue layer.
type RedisSessions struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessions(rdb *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessions{rdb: rdb, ttl: ttl}
}

// Touch writes or refreshes the session entry and resets its TTL.
func (s *RedisSessions) Touch(ctx context.Context, userID, data string) error {
	if err := s.rdb.SetEx(ctx, SessionKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("touch session %s: %w", userID, err)
	}
	return nil
}

func (s *RedisSessions) Remove(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, SessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("remove session %s: %w", userID, err)
	}
	return nil
}

func (s *RedisSessions) IsPresent(ctx context.Context, userID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, SessionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", userID, err)
	}
	return n > 0, nil
}
