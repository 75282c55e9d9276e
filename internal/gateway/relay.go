package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"shadowbeta/internal/model"
)

// DefaultRelayChannel is the Redis PubSub channel runner events travel on.
const DefaultRelayChannel = "shadowbeta:runner:events"

// RedisRelay publishes runner events to Redis so every API instance
// subscribed with Run delivers them to its own WebSocket clients. When a
// publish fails the event goes straight to the local broadcaster.
type RedisRelay struct {
	rdb     *goredis.Client
	channel string
	local   model.Broadcaster
	timeout time.Duration
	log     *slog.Logger
}

// NewRedisRelay creates a relay delivering to local.
func NewRedisRelay(rdb *goredis.Client, channel string, local model.Broadcaster) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		local:   local,
		timeout: 2 * time.Second,
		log:     slog.Default().With("component", "relay"),
	}
}

// Broadcast implements model.Broadcaster.
func (r *RedisRelay) Broadcast(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("marshal event failed", "type", ev.Type, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.Warn("publish failed, delivering locally", "err", err)
		r.local.Broadcast(ev)
	}
}

// Run subscribes to the relay channel and forwards every message to the
// local broadcaster. Blocks until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	r.log.Info("subscribed to relay channel", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn("dropping malformed relay message", "err", err)
				continue
			}
			r.local.Broadcast(ev)
		}
	}
}
