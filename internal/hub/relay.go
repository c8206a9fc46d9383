package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"fund-connect/internal/logging"
	"fund-connect/internal/model"
)

const channelPrefix = "conversation:"

func channel(conversationID string) string {
	return channelPrefix + conversationID
}

// Relay carries inserts between instances over Redis pub/sub. Every
// instance, the sender included, delivers into its hub from Run. When Redis
// rejects a publish the sender delivers into its own hub so local
// subscribers still see the insert.
type Relay struct {
	client *redis.Client
	hub    *Hub
	log    *slog.Logger
}

func NewRelay(client *redis.Client, h *Hub, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Relay{client: client, hub: h, log: logger}
}

func (r *Relay) Publish(ctx context.Context, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, channel(msg.ConversationID), data).Err(); err != nil {
		r.hub.Deliver(msg)
		return fmt.Errorf("relay publish, delivered locally only: %w", err)
	}
	return nil
}

// Run subscribes to every conversation channel and delivers into the hub
// until ctx is cancelled. ready, when non-nil, is closed once the
// subscription is active.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) error {
	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.Info("live relay subscribed", "pattern", channelPrefix+"*")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg model.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.Warn("relay payload unreadable", "channel", m.Channel, "error", err)
				continue
			}
			if msg.ConversationID != strings.TrimPrefix(m.Channel, channelPrefix) {
				r.log.Warn("relay payload on wrong channel", "channel", m.Channel, "conversationId", msg.ConversationID)
				continue
			}
			r.hub.Deliver(msg)
		}
	}
}
