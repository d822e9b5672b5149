package mailing

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
)

// sesAPI is the subset of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client           sesAPI
	configurationSet string
}

// NewSESSender creates an SES sender. Static credentials are used when given,
// otherwise the default AWS credential chain.
func NewSESSender(ctx context.Context, accessKey, secretKey, region, configurationSet string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg), configurationSet: configurationSet}, nil
}

func newSESSenderWithClient(client sesAPI, configurationSet string) *SESSender {
	return &SESSender{client: client, configurationSet: configurationSet}
}

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.client == nil {
		return nil, ErrSenderNotReady
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    &types.Body{},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("message_id"), Value: aws.String(msg.ID)},
			{Name: aws.String("subscriber_id"), Value: aws.String(msg.SubscriberID)},
		},
	}

	if msg.HTMLContent != "" {
		input.Content.Simple.Body.Html = &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")}
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for name, value := range msg.Headers {
		input.Content.Simple.Headers = append(input.Content.Simple.Headers,
			types.MessageHeader{Name: aws.String(name), Value: aws.String(value)})
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	logger.Info("ses email sent", "email", msg.Email, "message_id", messageID)

	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		ESPType:   domain.ESPSES,
		SentAt:    time.Now(),
	}, nil
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
