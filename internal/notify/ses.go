package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"letterdesk/pkg/config"
	"letterdesk/pkg/logger"
)

// EmailAPI is the part of the SES client SESNotifier uses.
type EmailAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends email through AWS SES v2.
type SESNotifier struct {
	client EmailAPI
	from   string
	logger *zap.Logger
}

// NewSESNotifier loads AWS config for cfg.Region. Static keys are used when
// both are set; otherwise the default credential chain applies.
func NewSESNotifier(ctx context.Context, cfg config.SESConfig, logger *zap.Logger) (*SESNotifier, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg.From, logger), nil
}

func NewSESNotifierWithClient(client EmailAPI, from string, logger *zap.Logger) *SESNotifier {
	return &SESNotifier{client: client, from: from, logger: logger}
}

func (n *SESNotifier) Send(ctx context.Context, msg Message) error {
	if msg.Channel != ChannelEmail {
		return fmt.Errorf("%w: ses cannot send %q", ErrUnsupportedChannel, msg.Channel)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Topic != "" {
		input.EmailTags = []types.MessageTag{{Name: aws.String("topic"), Value: aws.String(msg.Topic)}}
	}

	out, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	n.logger.Info("email sent",
		logger.Email(msg.To),
		zap.String("topic", msg.Topic),
		zap.String("message_id", messageID),
	)
	return nil
}
