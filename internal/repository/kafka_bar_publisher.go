package repository

import (
	"context"

	"KlineHub/internal/domain/models"
	domrepo "KlineHub/internal/domain/repository"
	pkgkafka "KlineHub/pkg/kafka"
)

// BatchProducer is the part of pkg/kafka.Producer the publisher uses.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, msgs []pkgkafka.Message) error
	Close() error
}

// KafkaBarPublisher ships closed bars to a topic keyed by symbol@interval,
// so every series stays on one partition and in order.
type KafkaBarPublisher struct {
	producer BatchProducer
	topic    string
}

var _ domrepo.BarPublisher = (*KafkaBarPublisher)(nil)

func NewKafkaBarPublisher(producer BatchProducer, topic string) *KafkaBarPublisher {
	return &KafkaBarPublisher{producer: producer, topic: topic}
}

func (p *KafkaBarPublisher) PublishBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(bars))
	for i := range bars {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(bars[i].Key()),
			Value: bars[i],
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaBarPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
