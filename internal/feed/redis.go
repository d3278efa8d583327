package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisFeed fans row changes out across instances with Redis pub/sub, one
// channel per table: feed:{table}.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func channelName(table Table) string {
	return "feed:" + string(table)
}

func (f *RedisFeed) Subscribe(ctx context.Context, table Table, filter Filter, fn func(Event)) (Handle, error) {
	ps := f.client.Subscribe(ctx, channelName(table))
	// Wait for the subscription confirmation so publishes after Subscribe returns are seen.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	sub := &subscription{table: table, filter: filter, fn: fn}
	sub.release = func() { _ = ps.Close() }

	go func() {
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			sub.deliver(ev)
		}
	}()
	return sub, nil
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.client.Publish(ctx, channelName(ev.Table), payload).Err()
}
