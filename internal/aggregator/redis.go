package aggregator

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/nphies/claims-core/internal/teamsevent"
)

// RedisPublisher adapts *redis.Client to the Publisher interface, per
// event_aggregator.py's _publish_to_redis.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish publishes payload to channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// wireEvent is the JSON shape published to the pub/sub channel.
type wireEvent struct {
	EventType     string             `json:"event_type"`
	CorrelationID string             `json:"correlation_id"`
	Timestamp     string             `json:"timestamp"`
	Priority      string             `json:"priority"`
	Stakeholders  []string           `json:"stakeholders"`
	Data          map[string]any     `json:"data"`
}

func marshalEvent(event teamsevent.Event) ([]byte, error) {
	stakeholders := make([]string, 0, len(event.Stakeholders))
	for _, s := range event.Stakeholders {
		stakeholders = append(stakeholders, string(s))
	}
	return json.Marshal(wireEvent{
		EventType:     string(event.EventType),
		CorrelationID: event.CorrelationID,
		Timestamp:     event.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Priority:      string(event.Priority),
		Stakeholders:  stakeholders,
		Data:          event.Data,
	})
}
