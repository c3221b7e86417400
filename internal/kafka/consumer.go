package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/segmentio/kafka-go"
)

type Message = kafka.Message

type ConsumerConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1B, receipts are small
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 commits synchronously on every Commit call
	MaxWait        time.Duration // default 250ms
}

// ReceiptsConsumerConfig maps the kafka section to the receipts topic reader.
func ReceiptsConsumerConfig(k config.KafkaConfig) ConsumerConfig {
	return ConsumerConfig{
		Brokers:        k.Brokers,
		Topic:          k.ReceiptsTopic,
		GroupID:        k.GroupID,
		MinBytes:       k.MinBytes,
		MaxBytes:       k.MaxBytes,
		CommitInterval: time.Duration(k.CommitInterval) * time.Millisecond,
	}
}

// Consumer wraps a consumer-group kafka.Reader with explicit commits.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(c ConsumerConfig) *Consumer {
	minBytes := c.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	maxWait := c.MaxWait
	if maxWait <= 0 {
		maxWait = 250 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: c.CommitInterval,
		MaxWait:        maxWait,
	})

	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

// Commit marks msgs as processed. Offsets within one partition only move forward.
func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }
