package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/wire"
)

const redisPublishTimeout = 500 * time.Millisecond

// RedisSink publishes every dispatched frame to one Redis Pub/Sub
// channel, with the frame's topic prefixed to the payload, for
// lightweight fan-out consumers
// that don't need the full TCP control protocol.
//
// Grounded on
// _examples/Aidin1998-finalex/services/bookkeeper/cache/cache.go's use
// of *redis.Client as a plain dependency-injected handle with a
// bounded per-call context.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewRedisSink builds a sink publishing to a single Redis channel;
// per-topic routing happens at the subscriber via the message
// payload, matching spec.md §4.4's "one logical stream, many topics"
// shape.
func NewRedisSink(client *redis.Client, channel string, m *metrics.Collector, logger *slog.Logger) *RedisSink {
	return &RedisSink{client: client, channel: channel, logger: logger, metrics: m}
}

// Send publishes topic|frame as a Redis Pub/Sub message. Publish
// failures are logged and counted, never propagated to the live path.
func (r *RedisSink) Send(topic string, f wire.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()

	payload := append([]byte(topic+"|"), wire.Encode(f, nil)...)
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.metrics.IncCounter("redis_sink_publish_error_total", 1)
		r.logger.Warn("redis sink publish failed", "topic", topic, "error", err)
	}
}

// Close releases the underlying client.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
