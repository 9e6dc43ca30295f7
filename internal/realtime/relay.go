package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRelayChannel is the Redis pub/sub channel carrying room events.
const DefaultRelayChannel = "realtime:notifications"

// RedisRelay publishes room events over Redis pub/sub so a worker process can
// reach clients connected to any server process. Servers call Run to fan
// relayed events out to their local Hub.
type RedisRelay struct {
	rdb     redis.UniversalClient
	channel string
	logger  *zap.Logger
}

type relayMessage struct {
	UserID string          `json:"userId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

func NewRedisRelay(rdb redis.UniversalClient, channel string, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{rdb: rdb, channel: channel, logger: logger}
}

// Publish sends ev for userID to every subscribed server. Servers with no
// matching connection drop it.
func (r *RedisRelay) Publish(ctx context.Context, userID string, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Name, err)
	}
	body, err := json.Marshal(relayMessage{UserID: userID, Event: ev.Name, Data: data})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("relay %s to %s: %w", ev.Name, Room(userID), err)
	}
	return nil
}

// Run subscribes and forwards every relayed event to local until ctx ends.
// ready, if non-nil, is closed once the subscription is active.
func (r *RedisRelay) Run(ctx context.Context, local Publisher, ready chan<- struct{}) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("realtime relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.Warn("dropping malformed relay message", zap.Error(err))
				continue
			}
			if err := local.Publish(ctx, m.UserID, Event{Name: m.Event, Data: m.Data}); err != nil {
				r.logger.Error("relay publish failed",
					zap.String("room", Room(m.UserID)), zap.String("event", m.Event), zap.Error(err))
			}
		}
	}
}

var _ Publisher = (*RedisRelay)(nil)
