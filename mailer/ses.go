package mailer

import (
	"context"
	"fmt"
	"log"
	"time"

	appconfig "coldreach/config"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const sesCallTimeout = 15 * time.Second

// SESSender delivers cold email through Amazon SES v2
type SESSender struct {
	client *sesv2.Client
	from   string
	logger *log.Logger
}

// NewSESSender builds an SES v2 client from COLD_MAIL_* config.
// COLD_MAIL_API_KEY carries "accessKeyID:secretAccessKey".
func NewSESSender(cfg appconfig.Config, logger *log.Logger) (*SESSender, error) {
	accessKey, secretKey, err := splitSESKey(cfg.ColdMailAPIKey)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.ColdMailRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESSender{
		client: sesv2.NewFromConfig(awsCfg),
		from:   cfg.ColdMailFrom,
		logger: logger,
	}, nil
}

func (s *SESSender) Name() string { return "ses" }

func (s *SESSender) Send(ctx context.Context, email ColdEmail) (*SendResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, sesCallTimeout)
	defer cancel()

	from := email.From
	if from == "" {
		from = s.from
	}
	fromHeader := from
	if email.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", email.FromName, from)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: &fromHeader,
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &email.Subject},
				Body: &types.Body{
					Html: &types.Content{Data: &email.HTML},
					Text: &types.Content{Data: &email.Text},
				},
			},
		},
	}
	if email.ReplyTo != "" {
		input.ReplyToAddresses = []string{email.ReplyTo}
	}

	out, err := s.client.SendEmail(callCtx, input)
	if err != nil {
		s.logger.Printf("SES send failed for %s: %v", email.To, err)
		return &SendResult{Success: false, Error: err.Error()}, nil
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	return &SendResult{Success: true, MessageID: messageID}, nil
}

func splitSESKey(apiKey string) (string, string, error) {
	for i := 0; i < len(apiKey); i++ {
		if apiKey[i] == ':' {
			return apiKey[:i], apiKey[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("COLD_MAIL_API_KEY must be accessKeyID:secretAccessKey for ses")
}
