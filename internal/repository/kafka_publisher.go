package repository

import (
	"context"

	"GoldCast/internal/domain/models"
	"GoldCast/internal/domain/repository"
	pkgkafka "GoldCast/pkg/kafka"
)

var _ Publisher = (*pkgkafka.Producer)(nil)

// EventTypeHeader names the record header carrying the event kind.
const EventTypeHeader = "event_type"

// Publisher is what KafkaPublisher needs from a producer.
type Publisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaPublisher announces forecast runs on a Kafka topic keyed by run ID.
type KafkaPublisher struct {
	producer Publisher
	topic    string
}

var _ repository.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer Publisher, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishForecastGenerated(ctx context.Context, ev models.ForecastGenerated) error {
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{{
		Key:     []byte(ev.RunID),
		Value:   ev,
		Headers: map[string]string{EventTypeHeader: "forecast.generated"},
	}})
}

// Close is a no-op: the producer is shared with the log digest and closed
// by its owner.
func (p *KafkaPublisher) Close() error { return nil }

// NoopPublisher drops events. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishForecastGenerated(context.Context, models.ForecastGenerated) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
