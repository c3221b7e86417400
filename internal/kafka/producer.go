package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/segmentio/kafka-go"
)

// Producer publishes keyed messages to one topic. Messages with the same key
// land on the same partition, so receipts for one record stay ordered.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(k config.KafkaConfig, topic string) *Producer {
	timeout := time.Duration(k.WriteTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(k.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           timeout,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Publish blocks until the broker acknowledged the message.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (p *Producer) Close() error { return p.w.Close() }
