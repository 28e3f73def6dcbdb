package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/contact-orchestrator/internal/config"
)

// SESAPI is the subset of *sesv2.Client used by SESMailer.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends through AWS SES v2. SES simple messages carry no
// attachments, so the photo is dropped on this path.
type SESMailer struct {
	client SESAPI
}

// NewSESMailer wraps an existing client.
func NewSESMailer(client SESAPI) *SESMailer { return &SESMailer{client: client} }

// NewSESMailerFromConfig uses static keys when configured, otherwise the
// default credential chain.
func NewSESMailerFromConfig(ctx context.Context, cfg config.NotifierConfig) (*SESMailer, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.SESRegion)}
	if cfg.SESAccessKey != "" && cfg.SESSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESMailer(sesv2.NewFromConfig(awsCfg)), nil
}

func (s *SESMailer) Send(ctx context.Context, msg EmailMessage) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.From)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	_, err := s.client.SendEmail(ctx, input)
	if err == nil {
		return nil
	}
	var rejected *types.MessageRejected
	var badRequest *types.BadRequestException
	if errors.As(err, &rejected) || errors.As(err, &badRequest) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return fmt.Errorf("ses send: %w", err)
}
