package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisRelay shares events between central replicas: each replica publishes to a Redis channel
// and delivers what the others published to its own hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	origin  string
	logger  *logrus.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		origin:  uuid.NewString(),
		logger:  logger,

		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Publish delivers locally right away and relays the frame to the other replicas.
func (r *RedisRelay) Publish(ctx context.Context, room, event string, payload any) error {
	f, err := eventFrame(room, event, payload)
	if err != nil {
		return err
	}
	r.hub.Deliver(f)

	f.Origin = r.origin
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Run consumes the relay channel until ctx is cancelled, resubscribing with backoff when
// the subscription fails.
func (r *RedisRelay) Run(ctx context.Context) {
	backoff := r.minBackoff
	for {
		err := r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = r.minBackoff
		} else {
			r.logger.WithFields(logrus.Fields{
				"field":    "RedisRelay",
				"retry_in": backoff.String(),
			}).Warn("relay subscription failed: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err != nil {
			backoff *= 2
			if backoff > r.maxBackoff {
				backoff = r.maxBackoff
			}
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				r.logger.WithField("field", "RedisRelay").Warn("invalid relayed frame: " + err.Error())
				continue
			}
			if f.Origin == r.origin || f.Type != FrameEvent {
				continue
			}
			r.hub.Deliver(f)
		}
	}
}
