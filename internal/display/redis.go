package display

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"plotwatch/internal/highlight"
	"plotwatch/internal/logger"
	"plotwatch/internal/metrics"
)

const DefaultRedisChannel = "plotwatch:highlight"

// publisher is the subset of *redis.Client the sink uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Redis publishes the JSON payload to a pub/sub channel.
type Redis struct {
	client  publisher
	channel string
	timeout time.Duration
	log     *slog.Logger
}

func NewRedis(addr, password, channel string, lg *slog.Logger) *Redis {
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return newRedis(rc, channel, lg)
}

func newRedis(client publisher, channel string, lg *slog.Logger) *Redis {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel, timeout: 2 * time.Second, log: logger.Or(lg)}
}

func (r *Redis) publish(p Payload) {
	b, err := encode(p)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err = r.client.Publish(ctx, r.channel, b).Err()
		cancel()
	}
	if err != nil {
		metrics.SinkFailuresTotal.WithLabelValues("redis").Inc()
		r.log.Warn("redis publish failed", "channel", r.channel, "err", err)
	}
}

func (r *Redis) Render(ev highlight.Event) { r.publish(EventPayload(ev)) }

func (r *Redis) Alert(n Notice) { r.publish(AlertPayload(n)) }

func (r *Redis) Close() error { return r.client.Close() }
