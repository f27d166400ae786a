package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
)

// ProducerAPI is implemented by Producer and by test doubles.
type ProducerAPI interface {
	PublishOrderStatus(ctx context.Context, evt models.OrderStatusEvent) error
	Close() error
}

// MessageWriter is the subset of kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &Producer{writer: w, topic: topic, logger: logger}
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w MessageWriter, topic string, logger *zap.Logger) *Producer {
	return &Producer{writer: w, topic: topic, logger: logger}
}

// PublishOrderStatus writes the event keyed by order id so every event for
// an order lands on the same partition.
func (p *Producer) PublishOrderStatus(ctx context.Context, evt models.OrderStatusEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish order status",
			zap.String("order_id", evt.OrderID),
			zap.String("topic", p.topic),
			zap.Error(err),
		)
		return err
	}
	p.logger.Info("order status published",
		zap.String("order_id", evt.OrderID),
		zap.String("status", evt.Status),
		zap.String("topic", p.topic),
	)
	return nil
}

func (p *Producer) Close() error {
	p.logger.Info("closing kafka writer", zap.String("topic", p.topic))
	return p.writer.Close()
}
