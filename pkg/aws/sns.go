package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSPublisher is a minimal interface for publishing messages to SNS.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte) error
}

// SNSAPI is the subset of the SNS client used by SNSClient.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client    SNSAPI
	eventType string
	logger    *zap.Logger
}

// NewSNSClient publishes messages tagged with an "event_type" attribute so
// subscribers can filter on it.
func NewSNSClient(cfg sdkaws.Config, eventType string, logger *zap.Logger) *SNSClient {
	return NewSNSClientWithAPI(sns.NewFromConfig(cfg), eventType, logger)
}

func NewSNSClientWithAPI(api SNSAPI, eventType string, logger *zap.Logger) *SNSClient {
	return &SNSClient{client: api, eventType: eventType, logger: logger}
}

// Publish publishes a raw message to the given SNS topic ARN.
func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	input := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	}
	if s.eventType != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"event_type": {DataType: sdkaws.String("String"), StringValue: sdkaws.String(s.eventType)},
		}
	}

	out, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	s.logger.Debug("sns message published",
		zap.String("topic_arn", topicArn),
		zap.Int("message_len", len(message)),
		zap.String("message_id", sdkaws.ToString(out.MessageId)),
	)
	return nil
}
