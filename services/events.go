package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/kafka"
	"github.com/yashrajoria/fotofacil-backend/models"
	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
)

// Order event types.
const (
	EventOrderPaid           = "order_paid"
	EventOrderFailed         = "order_failed"
	EventOrderAmountMismatch = "order_amount_mismatch"
)

// StatusPublisher fans order status events out to SNS and Kafka. Both sinks
// are optional and publishing is best effort.
type StatusPublisher struct {
	snsClient   aws_pkg.SNSPublisher
	snsTopicArn string
	producer    kafka.ProducerAPI
	logger      *zap.Logger
}

func NewStatusPublisher(snsClient aws_pkg.SNSPublisher, snsTopicArn string, producer kafka.ProducerAPI, logger *zap.Logger) *StatusPublisher {
	return &StatusPublisher{
		snsClient:   snsClient,
		snsTopicArn: snsTopicArn,
		producer:    producer,
		logger:      logger,
	}
}

func (p *StatusPublisher) Publish(ctx context.Context, evt models.OrderStatusEvent) {
	if p == nil {
		return
	}
	if p.producer != nil {
		if err := p.producer.PublishOrderStatus(ctx, evt); err != nil {
			p.logger.Warn("kafka publish failed", zap.String("order_id", evt.OrderID), zap.Error(err))
		}
	}

	if p.snsClient == nil || p.snsTopicArn == "" {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal order event", zap.Error(err))
		return
	}
	if err := p.snsClient.Publish(ctx, p.snsTopicArn, payload); err != nil {
		p.logger.Warn("sns publish failed", zap.String("order_id", evt.OrderID), zap.Error(err))
	}
}
