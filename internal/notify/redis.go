package notify

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisPublisherClient is the subset of the go-redis client used for publishing.
type RedisPublisherClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     RedisPublisherClient
	channel string
}

// Compile-time check that RedisPublisher implements Notifier.
var _ Notifier = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher on channel (default "videoforge.events").
func NewRedisPublisher(rdb RedisPublisherClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "videoforge.events"
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Notify publishes the event.
func (p *RedisPublisher) Notify(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}
