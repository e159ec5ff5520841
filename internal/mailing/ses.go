package mailing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client the mailer calls.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures the SES transport.
type SESConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string
	ConfigurationSet string
}

// SESMailer sends through AWS SES v2. Every message carries enrollment_id,
// campaign_id and step tags so SES event publishing can be mapped back to
// the enrollment.
type SESMailer struct {
	client    SESAPI
	configSet string
	now       func() time.Time
}

// NewSESMailer builds an SES client. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func NewSESMailer(ctx context.Context, cfg SESConfig) (*SESMailer, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESMailerWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewSESMailerWithClient wraps an existing client.
func NewSESMailerWithClient(client SESAPI, configSet string) *SESMailer {
	return &SESMailer{client: client, configSet: configSet, now: time.Now}
}

func (s *SESMailer) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}

	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("enrollment_id"), Value: aws.String(msg.EnrollmentID)},
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("step"), Value: aws.String(strconv.Itoa(msg.StepNumber))},
		},
	}
	if s.configSet != "" {
		in.ConfigurationSetName = aws.String(s.configSet)
	}

	out, err := s.client.SendEmail(ctx, in)
	if err != nil {
		var rejected *types.MessageRejected
		var notVerified *types.MailFromDomainNotVerifiedException
		if errors.As(err, &rejected) || errors.As(err, &notVerified) {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return nil, fmt.Errorf("ses send: %w", err)
	}

	res := &SendResult{Transport: "ses", SentAt: s.now()}
	if out.MessageId != nil {
		res.MessageID = *out.MessageId
	}
	logger.Debug("ses sent", "key", msg.IdempotencyKey, "to", msg.To, "message_id", res.MessageID)
	return res, nil
}
