// Package mail holds the EmailSender implementations used by the
// verification dispatcher.
package mail

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
)

const charsetUTF8 = "UTF-8"

// SESAPI is the slice of the SES client the sender needs
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers messages through Amazon SES
type SESSender struct {
	client SESAPI
	from   string
}

var _ auth.EmailSender = (*SESSender)(nil)

func NewSESSender(client SESAPI, from string) *SESSender {
	return &SESSender{client: client, from: from}
}

// NewSESClient loads the default AWS credential chain for region
func NewSESClient(ctx context.Context, region string) (*ses.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load aws configuration").
			WithMetadata(map[string]any{"region": region})
	}
	return ses.NewFromConfig(cfg), nil
}

func (s *SESSender) Send(ctx context.Context, msg auth.EmailMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return goerrors.New("email recipient is required", goerrors.CategoryBadInput).
			WithTextCode("EMAIL_RECIPIENT_REQUIRED")
	}

	content := &types.Content{
		Data:    aws.String(msg.Body),
		Charset: aws.String(charsetUTF8),
	}

	body := &types.Body{}
	if msg.Format == auth.EmailFormatHTML {
		body.Html = content
	} else {
		body.Text = content
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String(charsetUTF8),
			},
			Body: body,
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send email").
			WithTextCode("EMAIL_SEND_FAILED").
			WithMetadata(map[string]any{"format": string(msg.Format), "subject": msg.Subject})
	}
	return nil
}
