package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESSender delivers the email channel via AWS SES.
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// SESConfig configures the SES email sender.
type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESSender creates an SES-backed email sender.
func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send emails the rendered notification to the recipient's address.
func (s *SESSender) Send(ctx context.Context, d Delivery) (Outcome, error) {
	if d.Contact.Email == "" {
		return Outcome{}, fmt.Errorf("recipient has no email address")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{d.Contact.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(d.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(d.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return Outcome{}, fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("to", d.Contact.Email),
		zap.String("event_type", string(d.EventType)),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return Outcome{Success: true, ExternalID: aws.ToString(result.MessageId)}, nil
}
