// Package backplane carries room traffic between relay hub instances.
package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/room"
)

const channelPrefix = "livetranslate:room:"

// Channel returns the pub/sub channel for a room.
func Channel(roomID string) string {
	return channelPrefix + roomID
}

// Redis is a room.Backplane over Redis pub/sub. Every instance subscribes to
// all room channels; hubs ignore their own messages.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

var _ room.Backplane = (*Redis)(nil)

// NewRedis connects to url (redis:// or rediss://) and verifies the
// connection with a PING.
func NewRedis(ctx context.Context, url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFromClient(client, logger), nil
}

func NewRedisFromClient(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, msg room.BackplaneMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, Channel(msg.RoomID), data).Err()
}

func (r *Redis) Subscribe(ctx context.Context, deliver func(room.BackplaneMessage)) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed so no message published
	// after Subscribe starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			var msg room.BackplaneMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("dropping malformed backplane message", "channel", m.Channel, "error", err)
				continue
			}
			if want := strings.TrimPrefix(m.Channel, channelPrefix); msg.RoomID != want {
				r.logger.Warn("dropping backplane message for another room", "channel", m.Channel, "room_id", msg.RoomID)
				continue
			}
			deliver(msg)
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
