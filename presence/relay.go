package presence

import (
	"context"
	"encoding/json"
	"time"

	"clinicmsg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type envelope struct {
	Origin  string          `json:"origin"`
	UserIDs []string        `json:"userIds"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay fans events out to every instance sharing a Redis channel.
// Each instance delivers to its own connections only.
type RedisRelay struct {
	local   *Registry
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisRelay(local *Registry, client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{
		local:   local,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Broadcast returns the number of local deliveries only.
func (r *RedisRelay) Broadcast(userID, event string, payload any) int {
	return r.BroadcastMany([]string{userID}, event, payload)
}

func (r *RedisRelay) BroadcastMany(userIDs []string, event string, payload any) int {
	delivered := r.local.BroadcastMany(userIDs, event, payload)
	r.publish(userIDs, event, payload)
	return delivered
}

func (r *RedisRelay) publish(userIDs []string, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("relay: marshal payload")
		return
	}
	data, err := json.Marshal(envelope{Origin: r.origin, UserIDs: userIDs, Event: event, Payload: raw})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("relay: marshal envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		logger.Warn().Err(err).Str("event", event).Msg("relay: publish failed")
	}
}

// Run consumes the channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	logger.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("📡 Redis relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) handle(data []byte) int {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn().Err(err).Msg("relay: malformed envelope")
		return 0
	}
	if env.Origin == r.origin {
		return 0
	}

	delivered := 0
	for _, id := range env.UserIDs {
		if r.local.IsOnline(id) {
			delivered += r.local.Broadcast(id, env.Event, env.Payload)
		}
	}
	return delivered
}
