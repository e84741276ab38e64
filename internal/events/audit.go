package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// RunAuditLog logs every event on topic until ctx is done. It returns once
// the subscription is established.
func RunAuditLog(ctx context.Context, subscriber message.Subscriber, topic string, logger *slog.Logger) error {
	messages, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Warn("Dropping malformed event", "message_uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			logger.Info("Event",
				"event_id", event.ID,
				"event_type", event.Type,
				"source", event.Source,
				"timestamp", event.Timestamp,
			)
			msg.Ack()
		}
	}()
	return nil
}
