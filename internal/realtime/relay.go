package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coachline/backend/pkg/wire"
)

const (
	// RelayChannel carries messages published by processes that hold no connections (the worker).
	RelayChannel = "realtime:relay"
	publishTTL   = 5 * time.Second
)

// relayPayload is the message published to Redis.
type relayPayload struct {
	UserIDs []string         `json:"user_ids"`
	Type    wire.MessageType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	At      int64            `json:"at"`
}

// RedisRelay hands messages from other processes to the hub that owns the connections.
// It is not a cross-instance registry: every subscriber delivers to its own local handles.
type RedisRelay struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRelay creates a relay over the given Redis client.
func NewRedisRelay(client *redis.Client, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, logger: logger}
}

// SendToUsers publishes a message for userIDs. It always reports zero handles because delivery
// happens in the subscribing process.
func (r *RedisRelay) SendToUsers(userIDs []string, t wire.MessageType, payload interface{}) int {
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	if err := r.Publish(ctx, userIDs, t, payload); err != nil {
		r.logger.Warn("relay publish failed", zap.String("type", string(t)), zap.Error(err))
	}
	return 0
}

// Publish sends one message to the relay channel.
func (r *RedisRelay) Publish(ctx context.Context, userIDs []string, t wire.MessageType, payload interface{}) error {
	p := relayPayload{UserIDs: userIDs, Type: t, At: time.Now().Unix()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal relay payload: %w", err)
		}
		p.Payload = raw
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, RelayChannel, body).Err()
}

// Run subscribes to the relay channel and delivers every message through hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	pubsub := r.client.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var p relayPayload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil || p.Type == "" {
				r.logger.Debug("dropping malformed relay message", zap.Error(err))
				continue
			}
			var payload interface{}
			if len(p.Payload) > 0 {
				payload = p.Payload
			}
			n := hub.SendToUsers(p.UserIDs, p.Type, payload)
			r.logger.Debug("relayed message", zap.String("type", string(p.Type)), zap.Int("delivered", n))
		}
	}
}
