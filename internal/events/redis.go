package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel events are published on.
const DefaultChannel = "reconciliation_events"

// RedisPublisher publishes JSON events on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher connects to addr and checks the connection.
func NewRedisPublisher(ctx context.Context, addr, password, channel string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("NewRedisPublisher: ping %s: %w", addr, err)
	}
	return NewRedisPublisherWithClient(rdb, channel), nil
}

// NewRedisPublisherWithClient uses an existing client.
func NewRedisPublisherWithClient(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("RedisPublisher.Publish: marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("RedisPublisher.Publish: %s: %w", ev.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// Subscribe delivers events from the channel to handle until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, handle func(context.Context, Event) error) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			if err := handle(ctx, ev); err != nil {
				return fmt.Errorf("RedisPublisher.Subscribe: handle %s: %w", ev.Type, err)
			}
		}
	}
}
