package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSSender delivers the SMS channel via AWS SNS.
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

// SNSConfig configures the SNS SMS sender.
type SNSConfig struct {
	Region string
}

// NewSNSSender creates an SNS-backed SMS sender.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send texts the rendered message to the recipient's phone number.
func (s *SNSSender) Send(ctx context.Context, d Delivery) (Outcome, error) {
	if d.Contact.Phone == "" {
		return Outcome{}, fmt.Errorf("recipient has no phone number")
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(d.Contact.Phone),
		Message:     aws.String(d.Message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return Outcome{}, fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("phone_number", d.Contact.Phone),
		zap.String("event_type", string(d.EventType)),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return Outcome{Success: true, ExternalID: aws.ToString(result.MessageId)}, nil
}
